package harness

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/replica/internal/ir"
)

func TestLoadScenario_ValidFile(t *testing.T) {
	s := loadTestScenario(t, "reconnect_known_ids")

	assert.Equal(t, "reconnect_known_ids", s.Name)
	assert.NotEmpty(t, s.Description)
	require.Len(t, s.Steps, 7)
	require.NotNil(t, s.Steps[0].Send)
	assert.Equal(t, uint64(1), s.Steps[0].Send.ID)
	assert.Equal(t, "entity_created", s.Steps[0].Send.Kind)
	assert.True(t, s.Steps[3].Ack)
	require.NotNil(t, s.Steps[4].Reconnect)
	assert.Equal(t, []uint64{1, 2}, s.Steps[4].Reconnect.KnownIDs)
	require.Len(t, s.Assertions, 3)
	assert.Equal(t, AssertLogCount, s.Assertions[0].Type)
	assert.Equal(t, 5, s.Assertions[0].Count)
}

func TestLoadScenario_MissingFile(t *testing.T) {
	_, err := LoadScenario("/nonexistent/scenario.yaml")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read scenario file")
}

func TestParseScenario_Rejects(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{
			name: "missing name",
			yaml: "description: d\nassertions: [{type: log_count}]",
			want: "name is required",
		},
		{
			name: "missing description",
			yaml: "name: n\nassertions: [{type: log_count}]",
			want: "description is required",
		},
		{
			name: "missing assertions",
			yaml: "name: n\ndescription: d\nsteps: []",
			want: "assertions list is required",
		},
		{
			name: "unknown field",
			yaml: "name: n\ndescription: d\nassertion: []",
			want: "field assertion not found",
		},
		{
			name: "malformed yaml",
			yaml: "name: [unclosed",
			want: "failed to parse YAML",
		},
		{
			name: "unknown assertion type",
			yaml: "name: n\ndescription: d\nassertions: [{type: trace_count}]",
			want: `unknown assertion type "trace_count"`,
		},
		{
			name: "seen without ids",
			yaml: "name: n\ndescription: d\nassertions: [{type: seen}]",
			want: "ids list is required for seen",
		},
		{
			name: "negative log count",
			yaml: "name: n\ndescription: d\nassertions: [{type: log_count, count: -1}]",
			want: "count must be non-negative",
		},
		{
			name: "step with two actions",
			yaml: "name: n\ndescription: d\nsteps: [{ack: true, raw: x}]\nassertions: [{type: log_count}]",
			want: "steps[0]: exactly one of",
		},
		{
			name: "empty step",
			yaml: "name: n\ndescription: d\nsteps: [{}]\nassertions: [{type: log_count}]",
			want: "steps[0]: exactly one of",
		},
		{
			name: "send without kind",
			yaml: "name: n\ndescription: d\nsteps: [{send: {id: 1}}]\nassertions: [{type: log_count}]",
			want: "steps[0]: send: kind is required",
		},
		{
			name: "send with unknown kind",
			yaml: "name: n\ndescription: d\nsteps: [{send: {id: 1, kind: bogus}}]\nassertions: [{type: log_count}]",
			want: `unknown payload kind "bogus"`,
		},
		{
			name: "send with unknown origin",
			yaml: "name: n\ndescription: d\nsteps: [{send: {id: 1, kind: entity_deleted, origin: [mars]}}]\nassertions: [{type: log_count}]",
			want: `unknown service "mars"`,
		},
		{
			name: "expect without id",
			yaml: "name: n\ndescription: d\nsteps: [{expect: {flow: processed}}]\nassertions: [{type: log_count}]",
			want: "expect: id is required",
		},
		{
			name: "expect with unknown flow",
			yaml: "name: n\ndescription: d\nsteps: [{expect: {id: 1, flow: done}}]\nassertions: [{type: log_count}]",
			want: `unknown flow "done"`,
		},
		{
			name: "log entry without id",
			yaml: "name: n\ndescription: d\nlog: [{kind: entity_deleted}]\nassertions: [{type: log_count}]",
			want: "log[0]: id is required",
		},
		{
			name: "invalid pipeline",
			yaml: "name: n\ndescription: d\npipeline: {self: frontend}\nassertions: [{type: log_count}]",
			want: "pipeline:",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseScenario([]byte(tt.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestMessageSpec_Defaults(t *testing.T) {
	m, err := MessageSpec{ID: 4, Kind: "entity_deleted", Data: map[string]any{"entity": "user-4"}}.message()
	require.NoError(t, err)

	assert.Equal(t, MessageID(4), m.ID())
	assert.True(t, m.Flow().IsRequested())
	assert.Equal(t, []ir.Service{ir.ServiceFrontend}, m.Metadata.OriginChain)
	assert.Equal(t, ir.EntityDeleted{Entity: "user-4"}, m.Payload)
	assert.True(t, m.Metadata.Timestamp.Equal(Epoch))
}

func TestMessageSpec_ErrorFlow(t *testing.T) {
	m, err := MessageSpec{
		ID:     1,
		Flow:   "error",
		Reason: "quota exceeded",
		Origin: []string{"frontend", "store"},
		Kind:   "identifier_type_removed",
		Data:   map[string]any{"name": "email"},
	}.message()
	require.NoError(t, err)

	assert.Equal(t, ir.Failed("quota exceeded"), m.Flow())
	assert.Equal(t, ir.IdentifierTypeRemoved{Name: "email"}, m.Payload)
}

func TestMessageSpec_Match(t *testing.T) {
	m := ir.NewMessage(MessageID(1), Epoch, ir.Processed(), ir.EntityCreated{Entity: "u"},
		ir.ServiceFrontend, ir.ServiceReplica)

	assert.Empty(t, MessageSpec{ID: 1}.match(m))
	assert.Empty(t, MessageSpec{ID: 1, Flow: "processed", Kind: "entity_created", Origin: []string{"frontend", "replica"}}.match(m))
	assert.Contains(t, MessageSpec{ID: 2}.match(m), "id ")
	assert.Contains(t, MessageSpec{ID: 1, Flow: "requested"}.match(m), "flow processed, want requested")
	assert.Contains(t, MessageSpec{ID: 1, Kind: "entity_deleted"}.match(m), "kind entity_created, want entity_deleted")
	assert.Contains(t, MessageSpec{ID: 1, Origin: []string{"frontend"}}.match(m), "origin")
}

func TestHandshakeSpec_MatchIgnoresOrder(t *testing.T) {
	hs := ir.NewHandshake(MessageID(9), Epoch, ir.ServiceReplica, []uuid.UUID{MessageID(2), MessageID(1)})

	assert.Empty(t, (*HandshakeSpec)(nil).match(hs))
	assert.Empty(t, (&HandshakeSpec{}).match(hs), "nil known_ids is not checked")
	assert.Empty(t, (&HandshakeSpec{KnownIDs: []uint64{1, 2}}).match(hs))
	assert.NotEmpty(t, (&HandshakeSpec{KnownIDs: []uint64{1}}).match(hs))
	assert.NotEmpty(t, (&HandshakeSpec{KnownIDs: []uint64{}}).match(hs))
}

func TestFindScenarios(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"b.yaml", "a.yml", "notes.txt", "sub/c.yaml"} {
		path := filepath.Join(dir, name)
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))
	}

	files, err := FindScenarios(dir, "")
	require.NoError(t, err)
	assert.Equal(t, []string{
		filepath.Join(dir, "a.yml"),
		filepath.Join(dir, "b.yaml"),
		filepath.Join(dir, "sub", "c.yaml"),
	}, files)

	files, err = FindScenarios(dir, "b*")
	require.NoError(t, err)
	assert.Equal(t, []string{filepath.Join(dir, "b.yaml")}, files)

	_, err = FindScenarios(dir, "[")
	require.Error(t, err)
}

func TestMessageID(t *testing.T) {
	assert.Equal(t, "0a000000-0000-4000-8000-000000000001", MessageID(1).String())
}
