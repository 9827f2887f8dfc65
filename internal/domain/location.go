package domain

// LowPopulationThreshold is the population below which donations earn the
// double bonus.
const LowPopulationThreshold = 2000

// Location is the place a project is carried out in.
type Location struct {
	// Name is the locality name.
	Name string `json:"name"`

	// Province is the province or state the locality belongs to.
	Province string `json:"province"`

	// Population is the number of inhabitants. Never negative.
	Population int64 `json:"population"`
}

// NewLocation creates a Location, rejecting a negative population.
func NewLocation(name, province string, population int64) (Location, error) {
	if err := AssertPositive("population", population); err != nil {
		return Location{}, err
	}
	return Location{Name: name, Province: province, Population: population}, nil
}

// IsLowPopulation reports whether the location qualifies for the double bonus.
func (l Location) IsLowPopulation() bool {
	return l.Population < LowPopulationThreshold
}
