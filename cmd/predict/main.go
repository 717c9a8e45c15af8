// Command predict runs one prediction against a scaler/model artifact pair.
package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"go.uber.org/zap"

	"pecpredict/logger"
	"pecpredict/ml"
	"pecpredict/pipeline"
)

func main() {
	scalerPath := flag.String("scaler", "./models/scaler.json", "scaler artifact")
	modelPath := flag.String("model", "./models/model.json", "model artifact")
	unit := flag.String("unit", ml.PredictionUnit, "unit of the prediction")
	explain := flag.Bool("explain", false, "print per-feature attribution")

	var mix ml.MixDesign
	flag.Float64Var(&mix.WaterCementRatio, "wc", 0.30, "water-cement ratio")
	flag.Float64Var(&mix.AggregateCementRatio, "ac", 4.0, "aggregate-cement ratio")
	flag.Float64Var(&mix.MinAggregateSize, "dmin", 4.75, "minimum aggregate size (mm)")
	flag.Float64Var(&mix.MaxAggregateSize, "dmax", 9.5, "maximum aggregate size (mm)")
	flag.Float64Var(&mix.Porosity, "porosity", 15.0, "porosity (%)")
	flag.Float64Var(&mix.SpecimenShape, "ss", ml.ShapeCylinder, "specimen shape (1=cylinder, 2=cube)")
	flag.Float64Var(&mix.SpecimenDiameter, "sd", 100, "specimen diameter (mm)")
	flag.Float64Var(&mix.SpecimenHeight, "sh", 200, "specimen height (mm)")
	flag.Float64Var(&mix.TestMethod, "tm", ml.MethodConstantHead, "test method (1=constant head, 2=falling head)")
	flag.Parse()

	log, err := logger.New(logger.Config{Level: "warn", Development: true})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	loader, err := pipeline.NewLoader(1, log)
	if err != nil {
		log.Fatal("failed to create loader", zap.Error(err))
	}
	p, err := pipeline.Open(loader, *scalerPath, *modelPath, *unit)
	if err != nil {
		log.Fatal("failed to load model artifacts", zap.Error(err))
	}
	result, err := p.Run(mix.Vector(), *explain)
	if err != nil {
		log.Fatal("prediction failed", zap.Error(err))
	}
	printResult(os.Stdout, result)
}

func printResult(out io.Writer, result *pipeline.Result) {
	fmt.Fprintf(out, "Predicted permeability: %.6f %s\n", result.Prediction, result.Unit)
	if result.ExplainError != "" {
		fmt.Fprintf(out, "Attribution unavailable: %s\n", result.ExplainError)
		return
	}
	if result.Attribution == nil {
		return
	}

	fmt.Fprintf(out, "\nBaseline: %.6f %s\n", result.Attribution.Baseline, result.Unit)
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "feature\tvalue\tcontribution")
	specs := ml.FeatureSpecs()
	for i, value := range result.Attribution.Values {
		fmt.Fprintf(w, "%s\t%g\t%+.6f\n", specs[i].Label, result.Features[i], value)
	}
	w.Flush()
}
