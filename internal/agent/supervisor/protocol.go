package supervisor

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mnemnk/runtime/internal/agent/value"
)

// inFrame is the JSON payload following ".IN " on the host->child stream.
type inFrame struct {
	Ctx  frameCtx   `json:"ctx"`
	Data value.Data `json:"data"`
}

type frameCtx struct {
	Ch string `json:"ch"`
}

// outFrame is the JSON payload following ".OUT " on the child->host stream.
type outFrame struct {
	Ctx  *frameCtx  `json:"ctx,omitempty"`
	Ch   string     `json:"ch"`
	Data value.Data `json:"data"`
}

// encodeIn renders a ".IN <json>\n" line for actx/data, per spec.md §4.5.
func encodeIn(actx value.Context, data value.Data) ([]byte, error) {
	raw, err := json.Marshal(inFrame{Ctx: frameCtx{Ch: actx.Ch}, Data: data})
	if err != nil {
		return nil, fmt.Errorf("marshal .IN frame: %w", err)
	}
	return append([]byte(".IN "+string(raw)), '\n'), nil
}

// encodeConfig renders a ".CONFIG <json>\n" line.
func encodeConfig(config map[string]value.Value) ([]byte, error) {
	raw, err := json.Marshal(config)
	if err != nil {
		return nil, fmt.Errorf("marshal .CONFIG frame: %w", err)
	}
	return append([]byte(".CONFIG "+string(raw)), '\n'), nil
}

// encodeQuit renders the ".QUIT\n" line.
func encodeQuit() []byte { return []byte(".QUIT\n") }

// parsedLine is the result of classifying one line of child stdout.
type parsedLine struct {
	isCommand bool
	command   string // "OUT", "STORE", "WRITE", "SUBSCRIBE", "READ", or "" for debug text
	payload   string
	debugText string
}

// parseLine classifies a line of child stdout per spec.md §4.5: lines
// starting with "." are commands (command name up to the first space),
// everything else is free-form debug output.
func parseLine(line string) parsedLine {
	if !strings.HasPrefix(line, ".") {
		return parsedLine{debugText: line}
	}
	rest := line[1:]
	sp := strings.IndexByte(rest, ' ')
	if sp < 0 {
		return parsedLine{isCommand: true, command: rest}
	}
	return parsedLine{isCommand: true, command: rest[:sp], payload: strings.TrimSpace(rest[sp+1:])}
}

// decodeOut parses an .OUT command's JSON payload.
func decodeOut(payload string) (outFrame, error) {
	var f outFrame
	if err := json.Unmarshal([]byte(payload), &f); err != nil {
		return outFrame{}, fmt.Errorf("unmarshal .OUT frame: %w", err)
	}
	return f, nil
}

// decodeLegacyKindValue parses the legacy ".STORE <kind> <value-json>" /
// ".WRITE <kind> <value-json>" payload shape: kind up to the first space,
// the remainder is the JSON-encoded value, matching original_source's
// command.rs `kind_value.split_once(" ")` handling.
func decodeLegacyKindValue(payload string) (kind string, v value.Value, err error) {
	sp := strings.IndexByte(payload, ' ')
	if sp < 0 {
		return "", value.Value{}, fmt.Errorf("legacy frame missing kind/value separator")
	}
	kind = payload[:sp]
	valueJSON := strings.TrimSpace(payload[sp+1:])
	v, err = value.FromKindValue(value.Kind(kind), []byte(valueJSON))
	if err != nil {
		return "", value.Value{}, fmt.Errorf("decode legacy value: %w", err)
	}
	return kind, v, nil
}
