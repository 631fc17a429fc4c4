// Package coretools provides the built-in tools agents can be configured with:
// calculator, sql_query, read_memory, append_memory and the ask_<agent> proxy.
package coretools
