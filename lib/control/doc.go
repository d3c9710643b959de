// Package control serves a JSON-RPC 2.0 diagnostics endpoint over HTTP.
//
// Every method except Authenticate needs a Token parameter obtained from
// Authenticate with the configured password. Tokens expire after
// Config.TokenTTL.
//
// Methods:
//
//	Authenticate {"Password": "..."}                -> {"Token": "..."}
//	Echo         {"Token": "...", "Echo": "x"}      -> {"Result": "x"}
//	RouterStats  {"Token": "..."}                   -> router counters
//	RelayStats   {"Token": "..."}                   -> relay store counters
//	Pending      {"Token": "...", "Identity": "..."} -> {"Pending": n}
//	Protocols    {"Token": "..."}                   -> {"Protocols": [...]}
//
// Example request:
//
//	curl -H 'Content-Type: application/json' \
//	  -d '{"jsonrpc":"2.0","id":1,"method":"RouterStats","params":{"Token":"..."}}' \
//	  http://127.0.0.1:7681/jsonrpc
package control
