package procedure

import (
	"encoding/xml"
	"fmt"
	"strconv"
	"strings"

	"radiopipe/internal/task"
)

// pprXML mirrors the subset of the processing-request schema the pipeline
// consumes. Everything else in the document is ignored.
type pprXML struct {
	XMLName     xml.Name `xml:"ProcessingRequest"`
	ProjectCode string   `xml:"ProjectSummary>ProposalCode"`
	Procedure   struct {
		Title    string `xml:"ProcedureTitle"`
		Commands []struct {
			Command    string `xml:"Command"`
			Parameters []struct {
				Keyword string `xml:"Keyword"`
				Value   string `xml:"Value"`
			} `xml:"ParameterSet>Parameter"`
		} `xml:"ProcessingCommand"`
	} `xml:"ProcessingProcedure"`
	Options struct {
		StartStage int    `xml:"StartStage"`
		ExitStage  int    `xml:"ExitStage"`
		LogLevel   string `xml:"LogLevel"`
	} `xml:"ProcessingOptions"`
}

// ParsePPR decodes a processing request into a procedure plus its run
// options. Command names keep their observatory prefixes (hif_, hifa_,
// hifv_) in the document; they are stripped to registry keys here.
func ParsePPR(data []byte, reg task.Resolver) (Procedure, Options, string, error) {
	var doc pprXML
	if err := xml.Unmarshal(data, &doc); err != nil {
		return Procedure{}, Options{}, "", fmt.Errorf("procedure: decode ppr: %w", err)
	}
	p := Procedure{Name: strings.TrimSpace(doc.Procedure.Title)}
	if p.Name == "" {
		p.Name = "ppr"
	}
	for _, cmd := range doc.Procedure.Commands {
		step := Step{Task: registryKey(cmd.Command)}
		if len(cmd.Parameters) > 0 {
			step.Params = map[string]any{}
			for _, param := range cmd.Parameters {
				key := strings.TrimSpace(param.Keyword)
				if key == "" {
					continue
				}
				step.Params[key] = coerceValue(param.Value)
			}
		}
		p.Steps = append(p.Steps, step)
	}
	if err := p.validate(reg); err != nil {
		return Procedure{}, Options{}, "", err
	}
	opts := Options{
		StartStage: doc.Options.StartStage,
		ExitStage:  doc.Options.ExitStage,
		LogLevel:   strings.ToLower(strings.TrimSpace(doc.Options.LogLevel)),
	}
	if err := opts.Validate(p); err != nil {
		return Procedure{}, Options{}, "", err
	}
	return p, opts, strings.TrimSpace(doc.ProjectCode), nil
}

// registryKey strips the observatory task prefix from a PPR command name.
func registryKey(command string) string {
	key := strings.ToLower(strings.TrimSpace(command))
	for _, prefix := range []string{"hifa_", "hifv_", "hif_", "h_"} {
		if strings.HasPrefix(key, prefix) {
			return strings.TrimPrefix(key, prefix)
		}
	}
	return key
}

// coerceValue maps a PPR parameter string onto the loosely typed parameter
// values the task layer expects: bools, numbers, comma lists, or the string
// itself.
func coerceValue(raw string) any {
	s := strings.TrimSpace(raw)
	switch strings.ToLower(s) {
	case "true":
		return true
	case "false":
		return false
	}
	if n, err := strconv.Atoi(s); err == nil {
		return n
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f
	}
	if strings.Contains(s, ",") {
		parts := strings.Split(s, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, p)
			}
		}
		return out
	}
	return s
}
