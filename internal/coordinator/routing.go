package coordinator

import (
	"errors"
	"fmt"

	"golang.org/x/exp/slices"

	"github.com/dreamware/shardsearch/internal/cluster"
)

// Defaults applied to zero-valued IndexSettings fields.
const (
	DefaultRequestFactor            = 2.0
	DefaultMinShardRequest          = 2
	DefaultShardTolerance           = 0.0
	DefaultShardQueryCacheSize      = 512
	DefaultShardQueryCacheMaxAmount = 256
)

// ErrIndexNotFound is returned when a query names an index or alias the
// routing snapshot does not know.
var ErrIndexNotFound = errors.New("index not found")

// FieldType is the declared type of an indexed field.
type FieldType string

const (
	FieldText    FieldType = "text"
	FieldKeyword FieldType = "keyword"
	FieldInt     FieldType = "int"
	FieldLong    FieldType = "long"
	FieldFloat   FieldType = "float"
	FieldDouble  FieldType = "double"
	FieldDate    FieldType = "date"
	FieldBool    FieldType = "bool"
)

// Numeric reports whether values of the type are stored as numbers.
func (t FieldType) Numeric() bool {
	switch t {
	case FieldInt, FieldLong, FieldFloat, FieldDouble, FieldDate, FieldBool:
		return true
	}
	return false
}

// Integral reports whether sort values of the type compare as int64.
func (t FieldType) Integral() bool {
	switch t {
	case FieldInt, FieldLong, FieldDate, FieldBool:
		return true
	}
	return false
}

// FieldConfig declares one field of an index.
type FieldConfig struct {
	Name      string    `json:"name"`
	Type      FieldType `json:"type"`
	Analyzer  string    `json:"analyzer,omitempty"`
	Sortable  bool      `json:"sortable,omitempty"`
	Facetable bool      `json:"facetable,omitempty"`
}

// IndexSettings carries the per-index tuning used by query federation and
// the shard result cache, plus the field declarations.
type IndexSettings struct {
	DefaultSearchField       string        `json:"defaultSearchField,omitempty"`
	Fields                   []FieldConfig `json:"fields,omitempty"`
	RequestFactor            float64       `json:"requestFactor,omitempty"`
	ShardTolerance           float64       `json:"shardTolerance,omitempty"`
	MinShardRequest          *int          `json:"minShardRequest,omitempty"`
	ShardQueryCacheSize      int           `json:"shardQueryCacheSize,omitempty"`
	ShardQueryCacheMaxAmount int           `json:"shardQueryCacheMaxAmount,omitempty"`
}

// WithDefaults returns a copy with zero-valued tuning fields defaulted.
// MinShardRequest is defaulted only when unset or negative; zero is a
// valid minimum.
func (s IndexSettings) WithDefaults() IndexSettings {
	if s.RequestFactor <= 0 {
		s.RequestFactor = DefaultRequestFactor
	}
	s = s.WithMinShardRequest(s.ShardRequestMinimum())
	if s.ShardTolerance < 0 {
		s.ShardTolerance = DefaultShardTolerance
	}
	if s.ShardQueryCacheSize <= 0 {
		s.ShardQueryCacheSize = DefaultShardQueryCacheSize
	}
	if s.ShardQueryCacheMaxAmount <= 0 {
		s.ShardQueryCacheMaxAmount = DefaultShardQueryCacheMaxAmount
	}
	s.Fields = slices.Clone(s.Fields)
	return s
}

// WithMinShardRequest returns a copy with the per-shard minimum set.
func (s IndexSettings) WithMinShardRequest(n int) IndexSettings {
	s.MinShardRequest = &n
	return s
}

// ShardRequestMinimum is the configured MinShardRequest, or the default
// when unset or negative.
func (s IndexSettings) ShardRequestMinimum() int {
	if s.MinShardRequest == nil || *s.MinShardRequest < 0 {
		return DefaultMinShardRequest
	}
	return *s.MinShardRequest
}

// Field looks up a declared field by name.
func (s IndexSettings) Field(name string) (FieldConfig, bool) {
	i := slices.IndexFunc(s.Fields, func(f FieldConfig) bool { return f.Name == name })
	if i < 0 {
		return FieldConfig{}, false
	}
	return s.Fields[i], true
}

// SortFieldType returns the type a field sorts as. Undeclared fields sort
// as keywords.
func (s IndexSettings) SortFieldType(name string) FieldType {
	if f, ok := s.Field(name); ok {
		return f.Type
	}
	return FieldKeyword
}

// ShardMapping places one shard: exactly one primary and any number of
// replicas. Recovering copies were added after the shard had documents;
// they receive writes but serve no reads until they have caught up and
// are promoted to Replicas.
type ShardMapping struct {
	Primary    cluster.Node   `json:"primary"`
	Replicas   []cluster.Node `json:"replicas,omitempty"`
	Recovering []cluster.Node `json:"recovering,omitempty"`
	Shard      int            `json:"shard"`
}

// Holds reports whether node keeps a copy of the shard, recovering or not.
func (m ShardMapping) Holds(node cluster.Node) bool {
	if m.Primary.Same(node) || slices.ContainsFunc(m.Replicas, node.Same) {
		return true
	}
	return m.IsRecovering(node)
}

// IsRecovering reports whether node's copy is still catching up.
func (m ShardMapping) IsRecovering(node cluster.Node) bool {
	return slices.ContainsFunc(m.Recovering, node.Same)
}

// Copies is every node a write to the shard must reach: the primary, the
// replicas and the recovering copies.
func (m ShardMapping) Copies() []cluster.Node {
	out := make([]cluster.Node, 0, 1+len(m.Replicas)+len(m.Recovering))
	out = append(out, m.Primary)
	out = append(out, m.Replicas...)
	return append(out, m.Recovering...)
}

// IndexMapping is the routing table of one index.
type IndexMapping struct {
	Name           string         `json:"name"`
	Shards         []ShardMapping `json:"shards"`
	Settings       IndexSettings  `json:"settings"`
	NumberOfShards int            `json:"numberOfShards"`
}

// Validate checks that there is exactly one mapping per shard number and
// that the shard numbers form the range [0, NumberOfShards).
func (m IndexMapping) Validate() error {
	if m.Name == "" {
		return errors.New("index name cannot be empty")
	}
	if m.NumberOfShards <= 0 {
		return fmt.Errorf("index %s: number of shards must be positive, got %d", m.Name, m.NumberOfShards)
	}
	if len(m.Shards) != m.NumberOfShards {
		return fmt.Errorf("index %s: found %d shard mappings, expected %d", m.Name, len(m.Shards), m.NumberOfShards)
	}
	seen := make([]bool, m.NumberOfShards)
	for _, sm := range m.Shards {
		if sm.Shard < 0 || sm.Shard >= m.NumberOfShards {
			return fmt.Errorf("index %s: shard %d out of range [0, %d)", m.Name, sm.Shard, m.NumberOfShards)
		}
		if seen[sm.Shard] {
			return fmt.Errorf("index %s: shard %d is mapped twice", m.Name, sm.Shard)
		}
		seen[sm.Shard] = true
		if sm.Primary.Address == "" {
			return fmt.Errorf("index %s: shard %d has no primary", m.Name, sm.Shard)
		}
	}
	return nil
}

// ShardMapping returns the placement of shard.
func (m IndexMapping) ShardMapping(shard int) (ShardMapping, bool) {
	if shard >= 0 && shard < len(m.Shards) && m.Shards[shard].Shard == shard {
		return m.Shards[shard], true
	}
	i := slices.IndexFunc(m.Shards, func(sm ShardMapping) bool { return sm.Shard == shard })
	if i < 0 {
		return ShardMapping{}, false
	}
	return m.Shards[i], true
}

// ShardFor is the shard owning uniqueID in this index.
func (m IndexMapping) ShardFor(uniqueID string) int {
	return ShardFor(uniqueID, m.NumberOfShards)
}

// Clone returns a deep copy.
func (m IndexMapping) Clone() IndexMapping {
	out := m
	out.Settings = m.Settings
	out.Settings.Fields = slices.Clone(m.Settings.Fields)
	out.Shards = make([]ShardMapping, len(m.Shards))
	for i, sm := range m.Shards {
		out.Shards[i] = ShardMapping{
			Shard:      sm.Shard,
			Primary:    sm.Primary,
			Replicas:   slices.Clone(sm.Replicas),
			Recovering: slices.Clone(sm.Recovering),
		}
	}
	if m.Settings.MinShardRequest != nil {
		out.Settings = out.Settings.WithMinShardRequest(*m.Settings.MinShardRequest)
	}
	return out
}
