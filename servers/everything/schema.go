package everything

// EchoArgs is the arguments for the echo tool.
type EchoArgs struct {
	Message string `json:"message" jsonschema:"description=Message to echo back"`
}

// AddArgs is the arguments for the add tool.
type AddArgs struct {
	A float64 `json:"a" jsonschema:"description=First number"`
	B float64 `json:"b" jsonschema:"description=Second number"`
}

// AddResult is the output of the add tool.
type AddResult struct {
	Sum float64 `json:"sum"`
}

// WeatherArgs is the arguments for the get_weather tool.
type WeatherArgs struct {
	Location string `json:"location" jsonschema:"minLength=1,description=City or place name"`
}

// LongRunningOperationArgs is the arguments for the long_running_operation tool.
type LongRunningOperationArgs struct {
	Duration float64 `json:"duration,omitempty" jsonschema:"minimum=0,default=10,description=Duration in seconds"`
	Steps    int     `json:"steps,omitempty" jsonschema:"minimum=1,default=5,description=Number of steps"`
}

// RequestHeadersResult is the output of the request_headers tool.
type RequestHeadersResult struct {
	SessionID string              `json:"sessionId"`
	Headers   map[string][]string `json:"headers"`
}

// NoArgs is the arguments of tools that take none.
type NoArgs struct{}
