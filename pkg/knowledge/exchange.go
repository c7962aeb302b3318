package knowledge

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Speaker identifies who produced a turn in an exchange.
type Speaker string

const (
	SpeakerAgent  Speaker = "agent"  // query sent on the manager's behalf
	SpeakerSource Speaker = "source" // knowledge source reply
	SpeakerHuman  Speaker = "human"  // human escalation answer
)

// Valid reports whether s is a known speaker.
func (s Speaker) Valid() bool {
	switch s {
	case SpeakerAgent, SpeakerSource, SpeakerHuman:
		return true
	default:
		return false
	}
}

// UnmarshalJSON rejects unknown speakers.
func (s *Speaker) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	speaker := Speaker(raw)
	if !speaker.Valid() {
		return fmt.Errorf("invalid speaker: %q", raw)
	}
	*s = speaker
	return nil
}

// Turn is one entry of an exchange.
type Turn struct {
	Speaker Speaker   `json:"speaker"`
	Text    string    `json:"text"`
	At      time.Time `json:"at"`
}

// Exchange is the append-only log of a run's knowledge consultations.
type Exchange struct {
	RunID       string
	Instruction string
	turns       []Turn
}

// NewExchange creates an empty exchange.
func NewExchange(runID, instruction string) *Exchange {
	return &Exchange{RunID: runID, Instruction: instruction}
}

// append adds a turn and returns its sequence number.
func (e *Exchange) append(speaker Speaker, text string) (int, Turn) {
	if !speaker.Valid() {
		panic(fmt.Sprintf("knowledge: unknown speaker %q", string(speaker)))
	}
	turn := Turn{Speaker: speaker, Text: text, At: time.Now().UTC()}
	e.turns = append(e.turns, turn)
	return len(e.turns) - 1, turn
}

// Turns returns a copy of the turns in order.
func (e *Exchange) Turns() []Turn {
	if e == nil {
		return nil
	}
	return append([]Turn(nil), e.turns...)
}

// Len returns the number of turns.
func (e *Exchange) Len() int {
	if e == nil {
		return 0
	}
	return len(e.turns)
}

// Summary renders the exchange as a transcript for prompts. Empty when
// nothing has been exchanged.
func (e *Exchange) Summary() string {
	if e.Len() == 0 {
		return ""
	}
	var sb strings.Builder
	for _, turn := range e.turns {
		sb.WriteString(string(turn.Speaker))
		sb.WriteString(": ")
		sb.WriteString(strings.TrimSpace(turn.Text))
		sb.WriteString("\n")
	}
	return strings.TrimRight(sb.String(), "\n")
}
