package optimisation

// AskTeller is a derivative-free, population based optimiser driven through an ask/tell protocol.
// Candidates are evaluated out of band (e.g. as batch jobs) and the fitness is reported back with Tell.
// Lower fitness is better.
type AskTeller interface {
	// Ask returns a fresh population of candidate vectors.
	Ask() [][]float64
	// AskOne returns a single candidate drawn from the current search distribution.
	// Used to replace individual members of a population that could not be evaluated.
	AskOne() []float64
	// Tell updates the search distribution with the fitness of each candidate.
	// Candidates need not be those returned by the most recent Ask, but there must be one per population slot.
	Tell(candidates [][]float64, fitness []float64) error
	// Stop returns true once a termination criterion has been met.
	Stop() bool
	// Best returns the best candidate told so far and its fitness.
	Best() ([]float64, float64)
}
