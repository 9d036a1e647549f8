package protocol

import "github.com/google/jsonschema-go/jsonschema"

// Schemas is the canonical JSON Schema for the auth, auth_success, hello,
// hello_ack, subscribe, control_request and control_result frames (the
// other frame types have no schema here), used to
// validate golden fixtures in CI (see fixtures_test.go) and available to
// any consumer/bridge SDK that wants to validate outbound frames before
// sending, per §6.
var Schemas = map[string]*jsonschema.Schema{
	TypeAuth: {
		Type:     "object",
		Required: []string{"type", "secret", "role"},
		Properties: map[string]*jsonschema.Schema{
			"type":     {Const: constOf(TypeAuth)},
			"secret":   {Type: "string"},
			"role":     {Type: "string", Enum: []any{string(RoleBridge), string(RoleConsumer)}},
			"clientId": {Type: "string"},
		},
	},
	TypeAuthSuccess: {
		Type:     "object",
		Required: []string{"type", "role", "clientId"},
		Properties: map[string]*jsonschema.Schema{
			"type":     {Const: constOf(TypeAuthSuccess)},
			"role":     {Type: "string", Enum: []any{string(RoleBridge), string(RoleConsumer)}},
			"clientId": {Type: "string"},
		},
	},
	TypeHello: {
		Type:     "object",
		Required: []string{"type", "capabilities", "platform", "protocol"},
		Properties: map[string]*jsonschema.Schema{
			"type":         {Const: constOf(TypeHello)},
			"capabilities": {Type: "array", Items: &jsonschema.Schema{Type: "string"}},
			"platform":     {Type: "string"},
			"projectId":    {Type: "string"},
			"route":        {Type: "string"},
			"url":          {Type: "string"},
			"protocol":     {Type: "integer", Minimum: ptrFloat(1.0)},
		},
	},
	TypeHelloAck: {
		Type:     "object",
		Required: []string{"type", "clientId", "protocol"},
		Properties: map[string]*jsonschema.Schema{
			"type":     {Const: constOf(TypeHelloAck)},
			"clientId": {Type: "string"},
			"protocol": {Type: "integer"},
		},
	},
	TypeSubscribe: {
		Type:     "object",
		Required: []string{"type", "levels"},
		Properties: map[string]*jsonschema.Schema{
			"type":         {Const: constOf(TypeSubscribe)},
			"levels":       {Type: "array", Items: &jsonschema.Schema{Type: "string"}},
			"capabilities": {Type: "array", Items: &jsonschema.Schema{Type: "string"}},
			"llm_filter":   {Type: "string", Enum: []any{"off", "minimal", "aggressive"}},
		},
	},
	TypeControlRequest: {
		Type:     "object",
		Required: []string{"type", "action"},
		Properties: map[string]*jsonschema.Schema{
			"type":         {Const: constOf(TypeControlRequest)},
			"id":           {Type: "string"},
			"action":       {Type: "string"},
			"args":         {Type: "object"},
			"code":         {Type: "string"},
			"expectResult": {Type: "boolean"},
			"timeoutMs":    {Type: "integer"},
		},
	},
	TypeControlResult: {
		Type:     "object",
		Required: []string{"type", "id", "ok"},
		Properties: map[string]*jsonschema.Schema{
			"type":   {Const: constOf(TypeControlResult)},
			"id":     {Type: "string"},
			"ok":     {Type: "boolean"},
			"result": {},
			"error": {
				Type:     "object",
				Required: []string{"message"},
				Properties: map[string]*jsonschema.Schema{
					"message": {Type: "string"},
					"stack":   {Type: "string"},
				},
			},
		},
	},
}

// Validate checks instance (typically the result of unmarshaling a frame
// into map[string]any) against the schema registered for frameType.
func Validate(frameType string, instance any) error {
	schema, ok := Schemas[frameType]
	if !ok {
		return unknownSchemaError(frameType)
	}
	resolved, err := schema.Resolve(nil)
	if err != nil {
		return err
	}
	return resolved.Validate(instance)
}

type unknownSchemaError string

func (e unknownSchemaError) Error() string {
	return "protocol: no schema registered for frame type " + string(e)
}

func ptrFloat(f float64) *float64 { return &f }

// constOf takes the address of v so it can populate jsonschema.Schema's
// Const field (*any) from a bare string constant.
func constOf(v any) *any { return &v }
