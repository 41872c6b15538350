package weighting

import (
	"fmt"

	"github.com/tzfnuist/ClimWIP/internal/ensemble"
)

// Result is the observation-anchored weight vector plus everything needed
// to trace it back to its inputs.
type Result struct {
	Members     []string        `json:"members"`
	Weights     ensemble.Values `json:"weights"`
	Numerator   ensemble.Values `json:"weights_q"`
	Denominator ensemble.Values `json:"weights_i"`
	DeltaQ      ensemble.Values `json:"delta_q"`
	DeltaI      ensemble.Matrix `json:"delta_i"`
	SigmaQ      float64         `json:"sigma_q"`
	SigmaI      float64         `json:"sigma_i"`
}

// MatrixResult is the observation-free counterpart: row m holds the weights
// when member m is the surrogate truth.
type MatrixResult struct {
	Members     []string        `json:"members"`
	Weights     ensemble.Matrix `json:"weights"`
	Numerator   ensemble.Matrix `json:"weights_q"`
	Denominator ensemble.Matrix `json:"weights_i"`
	DeltaQ      ensemble.Matrix `json:"delta_q"`
	DeltaI      ensemble.Matrix `json:"delta_i"`
	SigmaQ      float64         `json:"sigma_q"`
	SigmaI      float64         `json:"sigma_i"`
}

// Weights computes normalized weights from distances to observations.
func Weights(members []string, deltaQ []float64, deltaI ensemble.Matrix, p ShapeParameters) (*Result, error) {
	if len(deltaQ) != len(members) {
		return nil, ensemble.Configf("%d quality distances for %d members", len(deltaQ), len(members))
	}
	num, den, err := Terms(deltaQ, deltaI, p)
	if err != nil {
		return nil, fmt.Errorf("kernel: %w", err)
	}
	return &Result{
		Members:     members,
		Weights:     Normalize(num, den),
		Numerator:   num,
		Denominator: den,
		DeltaQ:      deltaQ,
		DeltaI:      deltaI,
		SigmaQ:      p.SigmaQ,
		SigmaI:      p.SigmaI,
	}, nil
}

// WeightsMatrix computes weights with every member once as surrogate truth.
// deltaQ[m] are the distances of all members from truth m.
func WeightsMatrix(members []string, deltaQ, deltaI ensemble.Matrix, p ShapeParameters) (*MatrixResult, error) {
	n := len(members)
	if err := checkEnsemble(n, deltaI, 3); err != nil {
		return nil, fmt.Errorf("kernel: %w", err)
	}
	if err := deltaQ.Validate(n); err != nil {
		return nil, fmt.Errorf("kernel: %w", err)
	}
	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("kernel: %w", err)
	}

	equalI := IsEqualWeighting(p.SigmaI)
	var iSim ensemble.Matrix
	if !equalI {
		iSim = SimilarityMatrix(deltaI, p.SigmaI)
	}
	num, den := SurrogateTerms(SimilarityMatrix(deltaQ, p.SigmaQ), iSim, equalI)
	return &MatrixResult{
		Members:     members,
		Weights:     NormalizeRows(num, den),
		Numerator:   num,
		Denominator: den,
		DeltaQ:      deltaQ,
		DeltaI:      deltaI,
		SigmaQ:      p.SigmaQ,
		SigmaI:      p.SigmaI,
	}, nil
}
