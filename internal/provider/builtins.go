package provider

// RegisterBuiltins registers every adapter type that ships with the
// engine. Called from cmd/intaked and test setup; never from init().
func RegisterBuiltins() {
	if !IsRegistered(HeuristicType) {
		RegisterHeuristic()
	}
}
