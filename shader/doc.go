// Package shader defines the request, artifact and error model shared by every
// stage of the compile and execute pipeline.
//
// A Request is decoded from a tool invocation, validated once, and then only
// read. Compilers turn each Source into an Artifact; the script assembler,
// executor and result capturer consume those artifacts and report failures
// using the typed errors in this package. Every typed error matches one
// sentinel via errors.Is so callers can classify failures without type
// switches.
package shader
