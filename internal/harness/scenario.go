package harness

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/roach88/replica/internal/config"
	"github.com/roach88/replica/internal/ir"
	"github.com/roach88/replica/internal/testutil"
)

// Epoch is the fixed time of the harness clock and of every scripted message.
var Epoch = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

// messageIDPrefix is the first byte of every scripted message id.
const messageIDPrefix = 0x0a

// MessageID maps a scenario id onto the UUID used on the wire.
func MessageID(n uint64) uuid.UUID {
	return testutil.SequentialID(messageIDPrefix, n)
}

// Scenario defines a conformance test scenario.
type Scenario struct {
	// Name uniquely identifies this scenario.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Pipeline overrides the default pipeline. Same format as a pipeline
	// file.
	Pipeline *config.PipelineFile `yaml:"pipeline,omitempty"`

	// Log is written to the persistent log before the client starts, to
	// model a restart.
	Log []MessageSpec `yaml:"log,omitempty"`

	// Handshake, if set, is checked against the first handshake.
	Handshake *HandshakeSpec `yaml:"handshake,omitempty"`

	// Steps run in order after the first handshake has been received.
	Steps []Step `yaml:"steps"`

	// Assertions validate the final log and tracker state.
	Assertions []Assertion `yaml:"assertions"`
}

// Step is one action of the scripted store. Exactly one field is set.
type Step struct {
	// Send delivers a message to the client.
	Send *MessageSpec `yaml:"send,omitempty"`

	// Raw delivers a frame verbatim, typically a malformed one.
	Raw string `yaml:"raw,omitempty"`

	// Expect reads the client's next frame and matches it.
	Expect *MessageSpec `yaml:"expect,omitempty"`

	// Ack acknowledges the most recent handshake.
	Ack bool `yaml:"ack,omitempty"`

	// Reconnect drops the connection and checks the handshake the client
	// sends on its next connection.
	Reconnect *HandshakeSpec `yaml:"reconnect,omitempty"`
}

// MessageSpec describes a message by scenario id.
//
// When sending, Kind is required and Flow defaults to requested and Origin to
// [frontend]. When expecting, only the fields that are set are matched.
type MessageSpec struct {
	ID     uint64         `yaml:"id"`
	Flow   string         `yaml:"flow,omitempty"`
	Reason string         `yaml:"reason,omitempty"`
	Origin []string       `yaml:"origin,omitempty"`
	Kind   string         `yaml:"kind,omitempty"`
	Data   map[string]any `yaml:"data,omitempty"`
}

// HandshakeSpec is the expected content of a handshake. A nil KnownIDs is not
// checked; an empty list must match exactly.
type HandshakeSpec struct {
	KnownIDs []uint64 `yaml:"known_ids"`
}

// Assertion validates the final state.
type Assertion struct {
	// Type specifies the assertion type:
	// - "log_count": the log holds exactly Count records
	// - "pending": the pending ids are exactly IDs
	// - "seen": every id in IDs has been seen
	// - "session_established": the session flag equals Established
	Type string `yaml:"type"`

	Count       int      `yaml:"count,omitempty"`
	IDs         []uint64 `yaml:"ids,omitempty"`
	Established bool     `yaml:"established,omitempty"`
}

// Assertion type constants.
const (
	AssertLogCount           = "log_count"
	AssertPending            = "pending"
	AssertSeen               = "seen"
	AssertSessionEstablished = "session_established"
)

// LoadScenario reads and parses a scenario YAML file.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is missing required fields.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario parses and validates scenario YAML.
func ParseScenario(data []byte) (*Scenario, error) {
	// Strict decoding catches typos like "assertion:" vs "assertions:".
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

// FindScenarios returns the YAML files under dir in lexical order. A non-empty
// filter is a glob matched against the file name without extension.
func FindScenarios(dir, filter string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		ext := filepath.Ext(path)
		if ext != ".yaml" && ext != ".yml" {
			return nil
		}
		if filter != "" {
			name := strings.TrimSuffix(filepath.Base(path), ext)
			matched, err := filepath.Match(filter, name)
			if err != nil {
				return fmt.Errorf("invalid filter pattern: %w", err)
			}
			if !matched {
				return nil
			}
		}
		files = append(files, path)
		return nil
	})
	slices.Sort(files)
	return files, err
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if len(s.Assertions) == 0 {
		return fmt.Errorf("assertions list is required and must be non-empty")
	}

	if s.Pipeline != nil {
		if _, err := s.Pipeline.Build(); err != nil {
			return fmt.Errorf("pipeline: %w", err)
		}
	}

	for i, m := range s.Log {
		if _, err := m.message(); err != nil {
			return fmt.Errorf("log[%d]: %w", i, err)
		}
	}

	for i, step := range s.Steps {
		if err := validateStep(step); err != nil {
			return fmt.Errorf("steps[%d]: %w", i, err)
		}
	}

	for i, a := range s.Assertions {
		if err := validateAssertion(i, &a); err != nil {
			return err
		}
	}
	return nil
}

func validateStep(step Step) error {
	set := 0
	if step.Send != nil {
		set++
		if _, err := step.Send.message(); err != nil {
			return fmt.Errorf("send: %w", err)
		}
	}
	if step.Raw != "" {
		set++
	}
	if step.Expect != nil {
		set++
		if step.Expect.ID == 0 {
			return fmt.Errorf("expect: id is required")
		}
		if step.Expect.Flow != "" {
			if _, err := parseFlow(step.Expect.Flow, step.Expect.Reason); err != nil {
				return fmt.Errorf("expect: %w", err)
			}
		}
	}
	if step.Ack {
		set++
	}
	if step.Reconnect != nil {
		set++
	}
	if set != 1 {
		return fmt.Errorf("exactly one of send, raw, expect, ack, reconnect is required")
	}
	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion) error {
	switch a.Type {
	case "":
		return fmt.Errorf("assertions[%d]: type is required", index)
	case AssertLogCount:
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for log_count", index)
		}
	case AssertPending, AssertSessionEstablished:
	case AssertSeen:
		if len(a.IDs) == 0 {
			return fmt.Errorf("assertions[%d]: ids list is required for seen", index)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	return nil
}

func parseFlow(name, reason string) (ir.Flow, error) {
	switch ir.FlowType(name) {
	case ir.FlowRequested:
		return ir.Requested(), nil
	case ir.FlowProcessed:
		return ir.Processed(), nil
	case ir.FlowError:
		return ir.Failed(reason), nil
	default:
		return ir.Flow{}, fmt.Errorf("unknown flow %q", name)
	}
}

// message builds the wire message described by m. The payload goes through
// the wire codec so that scenarios can only describe frames the client would
// accept.
func (m MessageSpec) message() (ir.Message, error) {
	if m.ID == 0 {
		return ir.Message{}, fmt.Errorf("id is required")
	}
	if m.Kind == "" {
		return ir.Message{}, fmt.Errorf("kind is required")
	}
	flowName := m.Flow
	if flowName == "" {
		flowName = string(ir.FlowRequested)
	}
	flow, err := parseFlow(flowName, m.Reason)
	if err != nil {
		return ir.Message{}, err
	}
	origin := m.Origin
	if origin == nil {
		origin = []string{string(ir.ServiceFrontend)}
	}
	data := m.Data
	if data == nil {
		data = map[string]any{}
	}

	frame, err := json.Marshal(map[string]any{
		"metadata": map[string]any{
			"id":           MessageID(m.ID),
			"timestamp":    Epoch,
			"origin_chain": origin,
			"flow":         flow,
		},
		"payload": map[string]any{
			"kind": m.Kind,
			"data": data,
		},
	})
	if err != nil {
		return ir.Message{}, err
	}
	return ir.Decode(frame)
}

// match reports how got differs from the fields set in m, or "" when it
// matches.
func (m MessageSpec) match(got ir.Message) string {
	if want := MessageID(m.ID); got.ID() != want {
		return fmt.Sprintf("id %s, want %s", got.ID(), want)
	}
	if m.Flow != "" {
		want, _ := parseFlow(m.Flow, m.Reason)
		if got.Flow() != want {
			return fmt.Sprintf("flow %s, want %s", got.Flow(), want)
		}
	}
	if m.Kind != "" && string(got.Kind()) != m.Kind {
		return fmt.Sprintf("kind %s, want %s", got.Kind(), m.Kind)
	}
	if m.Origin != nil {
		if gotOrigin := origins(got); !slices.Equal(gotOrigin, m.Origin) {
			return fmt.Sprintf("origin %v, want %v", gotOrigin, m.Origin)
		}
	}
	return ""
}

// match reports how the handshake's known ids differ from h, or "".
func (h *HandshakeSpec) match(hs ir.Message) string {
	if h == nil || h.KnownIDs == nil {
		return ""
	}
	got := hs.Payload.(ir.InitiatedConnection).KnownIDs
	want := messageIDs(h.KnownIDs)
	if !equalIDSets(got, want) {
		return fmt.Sprintf("known_ids %v, want %v", got, want)
	}
	return ""
}

func origins(m ir.Message) []string {
	out := make([]string, len(m.Metadata.OriginChain))
	for i, s := range m.Metadata.OriginChain {
		out[i] = string(s)
	}
	return out
}

func equalIDSets(got, want []uuid.UUID) bool {
	if len(got) != len(want) {
		return false
	}
	set := make(map[uuid.UUID]bool, len(got))
	for _, id := range got {
		set[id] = true
	}
	for _, id := range want {
		if !set[id] {
			return false
		}
	}
	return true
}
