// synth_ensemble.go generates a reproducible synthetic ensemble input and
// either writes it to a file or posts it to a running ClimWIP API.
//
// Usage:
//
//	go run scripts/synth_ensemble.go -models 12 -variants 3 -seed 1 -out ensemble.yaml
//	go run scripts/synth_ensemble.go -models 30 -api http://localhost:8600 -async
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"math"
	"math/rand"
	"net/http"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/tzfnuist/ClimWIP/internal/ensemble"
	"github.com/tzfnuist/ClimWIP/internal/source"
)

func main() {
	models := flag.Int("models", 10, "number of physical models")
	variants := flag.Int("variants", 2, "maximum initial-condition members per model")
	seed := flag.Int64("seed", 1, "random seed")
	noObs := flag.Bool("no-obs", false, "omit quality distances (perfect model weighting)")
	out := flag.String("out", "", "write the input to this file (default stdout)")
	api := flag.String("api", "", "post the input to this ClimWIP API instead")
	async := flag.Bool("async", false, "queue the run instead of waiting for it")
	flag.Parse()

	if *models < 3 || *variants < 1 {
		log.Fatal("need at least 3 models and 1 variant")
	}
	in := synthesize(rand.New(rand.NewSource(*seed)), *models, *variants, !*noObs)

	if *api != "" {
		if err := post(*api, in, *async); err != nil {
			log.Fatalf("post: %v", err)
		}
		return
	}

	data, err := yaml.Marshal(in)
	if err != nil {
		log.Fatalf("encode: %v", err)
	}
	if *out == "" {
		os.Stdout.Write(data)
		return
	}
	if err := os.WriteFile(*out, data, 0o644); err != nil {
		log.Fatalf("write: %v", err)
	}
	log.Printf("wrote %d members to %s", len(in.Models), *out)
}

// synthesize places every model at a point in a 2-D latent space and scatters
// its members around it. Distances are Euclidean in that space; the target
// grows along the first axis.
func synthesize(rng *rand.Rand, models, variants int, withObs bool) *source.Input {
	type point struct{ x, y float64 }
	var keys []string
	var pts []point
	for m := 0; m < models; m++ {
		centre := point{rng.NormFloat64(), rng.NormFloat64()}
		n := 1 + rng.Intn(variants)
		for v := 0; v < n; v++ {
			keys = append(keys, fmt.Sprintf("MODEL%02d_r%di1p1f1_CMIP6", m+1, v+1))
			pts = append(pts, point{centre.x + 0.1*rng.NormFloat64(), centre.y + 0.1*rng.NormFloat64()})
		}
	}

	n := len(pts)
	dist := make(ensemble.Matrix, n)
	target := make(ensemble.Values, n)
	for i := range pts {
		dist[i] = make([]float64, n)
		for j := range pts {
			dist[i][j] = math.Hypot(pts[i].x-pts[j].x, pts[i].y-pts[j].y)
		}
		target[i] = 3 + 0.8*pts[i].x + 0.2*rng.NormFloat64()
	}

	in := &source.Input{
		Models:       keys,
		Independence: []source.IndependenceDiagnostic{{Name: "tas_CLIM", Matrix: dist}},
		Target:       &source.Target{Values: target},
	}
	if withObs {
		obs := point{0.3, -0.2}
		quality := make(ensemble.Values, n)
		for i, p := range pts {
			quality[i] = math.Hypot(p.x-obs.x, p.y-obs.y)
		}
		in.Quality = []source.QualityDiagnostic{{Name: "tas_CLIM", Values: quality}}
	}
	return in
}

func post(apiURL string, in *source.Input, async bool) error {
	body, err := json.Marshal(map[string]interface{}{
		"name":  fmt.Sprintf("synthetic-%d", len(in.Models)),
		"input": in,
		"async": async,
	})
	if err != nil {
		return err
	}
	resp, err := http.Post(apiURL+"/api/v1/runs", "application/json", bytes.NewReader(body))
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	var result map[string]interface{}
	json.NewDecoder(resp.Body).Decode(&result)
	if resp.StatusCode >= 300 {
		return fmt.Errorf("%d: %v", resp.StatusCode, result["error"])
	}
	if run, ok := result["run"].(map[string]interface{}); ok {
		fmt.Printf("run %v: %v\n", run["id"], run["status"])
	}
	return nil
}
