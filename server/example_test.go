package server_test

import (
	"fmt"
	"net/http"

	"github.com/jonwraymond/shaderexec/response"
	"github.com/jonwraymond/shaderexec/server"
)

func ExampleToolID() {
	id := server.ToolID("compile_run_shader")
	fmt.Println(id)
	fmt.Println(server.Name(id))
	// Output:
	// shader:compile_run_shader
	// compile_run_shader
}

func ExampleStatusCode() {
	busy := response.ToolResponse{
		Kind:           response.KindExecutionError,
		ExecutionError: &response.ExecutionFailure{Reason: response.ReasonResourceExhausted},
	}
	fmt.Println(server.StatusCode(busy) == http.StatusTooManyRequests)
	fmt.Println(server.StatusCode(response.ToolResponse{Kind: response.KindCompileError}))
	// Output:
	// true
	// 200
}
