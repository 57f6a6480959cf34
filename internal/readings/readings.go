// Package readings holds the metric reading model, its remote row shape and
// the sinks that persist it.
package readings

import "context"

// Source is a named controller endpoint. An empty Address means the source
// is declared but not reachable; pollers skip it.
type Source struct {
	Name    string
	Address string
}

func (s Source) Configured() bool {
	return s.Address != ""
}

// Reading is one fetched value for a (metric id, source) pair.
type Reading struct {
	SourceName    string
	MetricID      string
	Value         string
	SourceAddress string
	MachineID     string
}

// Row is the remote table shape. The JSON names are the wire contract.
type Row struct {
	Anlage string `json:"anlage"`
	Key    string `json:"key"`
	Value  string `json:"value"`
	IP     string `json:"ip"`
	MAC    string `json:"mac"`
}

func New(src Source, metricID, value, machineID string) Reading {
	return Reading{
		SourceName:    src.Name,
		MetricID:      metricID,
		Value:         value,
		SourceAddress: src.Address,
		MachineID:     machineID,
	}
}

func (r Reading) Row() Row {
	return Row{
		Anlage: r.SourceName,
		Key:    r.MetricID,
		Value:  r.Value,
		IP:     r.SourceAddress,
		MAC:    r.MachineID,
	}
}

// Sink persists a single reading. Implementations report every failure as an
// error and never panic.
type Sink interface {
	Save(ctx context.Context, r Reading) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, r Reading) error

func (f SinkFunc) Save(ctx context.Context, r Reading) error {
	return f(ctx, r)
}
