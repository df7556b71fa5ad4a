// Package protocol defines the JSON command and response catalog spoken over
// the peer command channel.
//
// Requests are objects of the form {"cmd": <name>, ...fields}. Decoding a
// request yields exactly one Command variant or a *errors.ProtocolError whose
// Message is the text to send back in an {"type":"error"} response.
package protocol

import (
	"encoding/json"
	stderrors "errors"

	"github.com/go-playground/validator/v10"

	"github.com/anstrom/netstick/internal/errors"
)

// Command names accepted in the "cmd" field.
const (
	CmdWiFiScan     = "wifi_scan"
	CmdNetworkScan  = "network_scan"
	CmdPortScan     = "port_scan"
	CmdWiFiConnect  = "wifi_connect"
	CmdAdvancedScan = "advanced_scan"
	CmdAnalyze      = "analyze"
	CmdStatus       = "status"
	CmdCancel       = "cancel"
)

// Command is a fully validated request from the peer.
type Command interface {
	// Name returns the wire name of the command.
	Name() string
	// RequiresNetwork reports whether the command needs an associated WiFi network.
	RequiresNetwork() bool
}

// WiFiScan lists nearby access points.
type WiFiScan struct{}

// NetworkScan sweeps the local subnet for live hosts.
type NetworkScan struct{}

// PortScan probes an inclusive TCP port range on one host.
type PortScan struct {
	Target string `validate:"required,ip"`
	Start  int    `validate:"min=1,max=65535"`
	End    int    `validate:"min=1,max=65535,gtefield=Start"`
}

// WiFiConnect associates with an access point.
type WiFiConnect struct {
	SSID     string `validate:"required"`
	Password string
}

// AdvancedScan is a port scan with optional OS and service version detection
// that finishes with a port_summary.
type AdvancedScan struct {
	Target         string `validate:"required,ip"`
	Start          int    `validate:"min=1,max=65535"`
	End            int    `validate:"min=1,max=65535,gtefield=Start"`
	OSDetect       bool
	ServiceVersion bool
}

// Analyze profiles one host: name, SNMP description, common services and OS.
type Analyze struct {
	Target string `validate:"required,ip"`
}

// Status asks for a device status snapshot.
type Status struct{}

// Cancel stops the running scan at its next checkpoint.
type Cancel struct{}

func (WiFiScan) Name() string     { return CmdWiFiScan }
func (NetworkScan) Name() string  { return CmdNetworkScan }
func (PortScan) Name() string     { return CmdPortScan }
func (WiFiConnect) Name() string  { return CmdWiFiConnect }
func (AdvancedScan) Name() string { return CmdAdvancedScan }
func (Analyze) Name() string      { return CmdAnalyze }
func (Status) Name() string       { return CmdStatus }
func (Cancel) Name() string       { return CmdCancel }

func (WiFiScan) RequiresNetwork() bool     { return false }
func (NetworkScan) RequiresNetwork() bool  { return true }
func (PortScan) RequiresNetwork() bool     { return true }
func (WiFiConnect) RequiresNetwork() bool  { return false }
func (AdvancedScan) RequiresNetwork() bool { return true }
func (Analyze) RequiresNetwork() bool      { return true }
func (Status) RequiresNetwork() bool       { return false }
func (Cancel) RequiresNetwork() bool       { return false }

// Decoder turns complete JSON request values into Commands.
type Decoder struct {
	validate     *validator.Validate
	defaultStart int
	defaultEnd   int
}

// NewDecoder creates a decoder that fills missing port bounds with the given defaults.
func NewDecoder(defaultStart, defaultEnd int) *Decoder {
	return &Decoder{
		validate:     validator.New(validator.WithRequiredStructEnabled()),
		defaultStart: defaultStart,
		defaultEnd:   defaultEnd,
	}
}

// Decode parses one complete JSON value. It never returns a partially
// populated Command: on failure the Command is nil and the error is a
// *errors.ProtocolError.
func (d *Decoder) Decode(data []byte) (Command, error) {
	var req fields
	if err := json.Unmarshal(data, &req); err != nil {
		// A well-formed value that is not an object simply has no cmd.
		var typeErr *json.UnmarshalTypeError
		if !stderrors.As(err, &typeErr) {
			return nil, errors.NewProtocolError(errors.MsgInvalidJSON, err)
		}
		req = nil
	}

	name, ok := req.str("cmd")
	if !ok {
		return nil, errors.NewProtocolError(errors.MsgMissingCmd, nil)
	}

	target, _ := req.str("target")
	start := req.intOr("start", d.defaultStart)
	end := req.intOr("end", d.defaultEnd)

	var cmd Command
	switch name {
	case CmdWiFiScan:
		cmd = WiFiScan{}
	case CmdNetworkScan:
		cmd = NetworkScan{}
	case CmdStatus:
		cmd = Status{}
	case CmdCancel:
		cmd = Cancel{}
	case CmdPortScan:
		cmd = PortScan{Target: target, Start: start, End: end}
	case CmdWiFiConnect:
		ssid, _ := req.str("ssid")
		password, _ := req.str("password")
		cmd = WiFiConnect{SSID: ssid, Password: password}
	case CmdAdvancedScan:
		cmd = AdvancedScan{
			Target:         target,
			Start:          start,
			End:            end,
			OSDetect:       req.boolOr("osDetect", false),
			ServiceVersion: req.boolOr("serviceVersion", true),
		}
	case CmdAnalyze:
		cmd = Analyze{Target: target}
	default:
		return nil, &errors.ProtocolError{
			Code:    errors.CodeValidation,
			Message: errors.MsgUnknownCommand,
			Command: name,
		}
	}

	if err := d.validate.Struct(cmd); err != nil {
		return nil, validationError(cmd.Name(), err)
	}
	return cmd, nil
}

// validationError maps the first failed field to its peer-facing message.
func validationError(name string, err error) error {
	var fieldErrs validator.ValidationErrors
	if !stderrors.As(err, &fieldErrs) || len(fieldErrs) == 0 {
		return errors.NewValidationError(name, "", err.Error())
	}

	fe := fieldErrs[0]
	switch fe.StructField() {
	case "Target":
		if fe.Tag() == "required" {
			return errors.NewValidationError(name, "target", errors.MsgMissingTarget)
		}
		return errors.NewValidationError(name, "target", errors.MsgInvalidTarget)
	case "Start", "End":
		return errors.NewValidationError(name, "port", errors.MsgInvalidPortRange)
	case "SSID":
		return errors.NewValidationError(name, "ssid", errors.MsgMissingSSID)
	default:
		return errors.NewValidationError(name, fe.Field(), "Invalid '"+fe.Field()+"'")
	}
}

// fields holds the raw members of a request object. Members that are absent,
// null or of the wrong JSON type read as unset so their defaults apply.
type fields map[string]json.RawMessage

func (f fields) raw(key string) (json.RawMessage, bool) {
	v, ok := f[key]
	if !ok || string(v) == "null" {
		return nil, false
	}
	return v, true
}

func (f fields) str(key string) (string, bool) {
	raw, ok := f.raw(key)
	if !ok {
		return "", false
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", false
	}
	return s, true
}

func (f fields) intOr(key string, def int) int {
	raw, ok := f.raw(key)
	if !ok {
		return def
	}
	var n int
	if err := json.Unmarshal(raw, &n); err != nil {
		return def
	}
	return n
}

func (f fields) boolOr(key string, def bool) bool {
	raw, ok := f.raw(key)
	if !ok {
		return def
	}
	var b bool
	if err := json.Unmarshal(raw, &b); err != nil {
		return def
	}
	return b
}
