// Package scenario defines the data model of the end-to-end harness:
// scenarios, steps, expectations and execution results.
//
// # Scenario Format
//
// Scenarios are YAML files decoded strictly (unknown fields are rejected):
//
//	name: admin_usuarios_lists_users
//	description: "GET /admin/usuarios returns the user list"
//	session: http
//	steps:
//	  - name: login as admin
//	    action: request
//	    method: POST
//	    path: /auth/login
//	    json: { email: "${ADMIN_EMAIL}", senha: "${ADMIN_PASSWORD}" }
//	    expect:
//	      status: 200
//	      jwt: token
//	    capture: { token: token }
//	  - action: request
//	    path: /admin/usuarios
//	    bearer: "${token}"
//	    expect:
//	      status: 200
//	      shape:
//	        fields: { sucesso: "true", usuarios: list }
//
// Browser scenarios use session: browser and the navigate, fill, click,
// upload, wait and assert actions:
//
//	- action: wait
//	  selector: "css=body"
//	  best_effort: true
//	- action: fill
//	  selector: "xpath=//input[@type='email']"
//	  value: "${USER_EMAIL}"
//
// # Expected Shapes
//
// The shape block is a tagged union; exactly one variant may be set:
//
//   - any_key: the JSON object has at least one of the listed keys
//   - fields: every listed field exists with the given kind
//   - cue: the JSON document unifies with a CUE schema
//
// # Results
//
// Every run produces an ExecutionResult with exactly one StepOutcome per
// declared step. Steps that never executed are reported as not_run.
package scenario
