package unified

// Options are pass-through model options. Nil pointers mean "not set" so the
// host capability can apply its own defaults.
type Options struct {
	MaxTokens     *int
	Temperature   *float64
	TopP          *float64
	StopSequences []string
}

// Request is the protocol-neutral form of one inbound call. It is built
// fresh per request and discarded after dispatch.
type Request struct {
	Model      string
	Messages   []Message
	Tools      []ToolDefinition
	ToolChoice ToolChoice
	Options    Options
	Stream     bool
}

// Usage carries both the raw host-side token estimates and the calibrated
// values surfaced on the wire. The raw values are kept visible for
// debugging; never report only the calibrated ones.
type Usage struct {
	InputTokensRaw  int
	InputTokens     int
	OutputTokensRaw int
	OutputTokens    int
}
