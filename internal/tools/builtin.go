package tools

// RegisterBuiltins registers the platform's built-in tool set. Called once at
// startup; there is no runtime code loading.
func RegisterBuiltins(r *Registry) {
	r.Register(&EchoTool{})
	r.Register(&DatetimeTool{})
	r.Register(&CalculatorTool{})
	r.Register(&TextSummaryTool{})
	r.Register(&JSONExtractTool{})
}
