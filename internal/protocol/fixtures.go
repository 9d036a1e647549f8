package protocol

// Fixtures holds the golden wire-format examples exercised by
// fixtures_test.go and available to SDK implementers in other languages as
// a conformance reference.
var Fixtures = map[string]string{
	TypeAuth: `{"type":"auth","secret":"dev-secret","role":"bridge","clientId":"bridge-1"}`,

	TypeAuthSuccess: `{"type":"auth_success","role":"bridge","clientId":"bridge-1"}`,

	TypeHello: `{"type":"hello","capabilities":["console","error","screenshot"],"platform":"node","protocol":2,"url":"http://localhost:3000"}`,

	TypeHelloAck: `{"type":"hello_ack","clientId":"bridge-1","protocol":2}`,

	TypeSubscribe: `{"type":"subscribe","levels":["errors","warn"],"capabilities":["screenshot"],"llm_filter":"minimal"}`,

	TypeControlRequest: `{"type":"control_request","id":"req-1","action":"ping","expectResult":true}`,

	TypeControlResult: `{"type":"control_result","id":"req-1","ok":true,"result":"pong"}`,
}
