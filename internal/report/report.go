// Package report generates self-contained HTML reports from fitted model
// artifacts: a model-results summary and a budget-optimization report.
package report

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/mixstack-labs/mixpipe/internal/artifact"
	"github.com/mixstack-labs/mixpipe/internal/diagnostics"
	"github.com/mixstack-labs/mixpipe/internal/inference"
)

//go:embed templates/*.html.tmpl
var templates embed.FS

// Generator renders report pages.
type Generator struct {
	tmpl    *template.Template
	printer *message.Printer
}

// NewGenerator parses the embedded templates.
func NewGenerator() (*Generator, error) {
	printer := message.NewPrinter(language.English)

	funcs := template.FuncMap{
		"num": func(v float64) string {
			if math.IsNaN(v) {
				return "n/a"
			}
			return printer.Sprintf("%.2f", v)
		},
		"num3": func(v float64) string {
			if math.IsNaN(v) {
				return "n/a"
			}
			return printer.Sprintf("%.3f", v)
		},
		"int": func(v int) string {
			return printer.Sprintf("%d", v)
		},
		"money": func(v float64) string {
			return printer.Sprintf("%.0f", v)
		},
		"pct": func(v float64) string {
			return printer.Sprintf("%+.1f%%", v*100)
		},
		"kpiLabel": kpiLabel,
	}

	tmpl, err := template.New("report").Funcs(funcs).ParseFS(templates, "templates/*.html.tmpl")
	if err != nil {
		return nil, fmt.Errorf("failed to parse report templates: %w", err)
	}
	return &Generator{tmpl: tmpl, printer: printer}, nil
}

// paramRow is one line of the convergence table.
type paramRow struct {
	Name    string
	RHat    float64
	ESS     float64
	Mean    float64
	SD      float64
	Median  float64
	Q5      float64
	Q95     float64
	Flagged bool
}

// channelROI summarizes a channel's posterior ROI.
type channelROI struct {
	Channel string
	Mean    float64
	Median  float64
	Q5      float64
	Q95     float64
}

type summaryData struct {
	Name            string
	GeneratedAt     time.Time
	CreatedAt       time.Time
	DataPath        string
	DataFingerprint string
	KPIKind         string
	KPIColumn       string
	Chains          int
	Adapt           int
	Burnin          int
	Keep            int
	Seed            int64
	Channels        []string
	Controls        []string
	Threshold       float64
	MaxRHat         float64
	MinESS          float64
	Converged       bool
	Params          []paramRow
	ROI             []channelROI
	Boxplot         template.HTML
}

// Summary renders the model-results page for a fitted artifact.
func (g *Generator) Summary(a *artifact.Artifact) ([]byte, error) {
	if a.Spec == nil {
		return nil, fmt.Errorf("artifact %s has no model spec", a.Name)
	}
	if a.Diagnostics == nil {
		return nil, fmt.Errorf("artifact %s has no diagnostics; refit the model", a.Name)
	}

	data := summaryData{
		Name:            a.Name,
		GeneratedAt:     time.Now().UTC(),
		CreatedAt:       a.CreatedAt,
		DataPath:        a.DataPath,
		DataFingerprint: a.DataFingerprint,
		KPIKind:         a.Spec.KPI.Kind,
		KPIColumn:       a.Spec.KPI.Column,
		Chains:          a.Spec.Sampling.Chains,
		Adapt:           a.Spec.Sampling.Adapt,
		Burnin:          a.Spec.Sampling.Burnin,
		Keep:            a.Spec.Sampling.Keep,
		Seed:            a.Spec.Sampling.Seed,
		Channels:        a.Spec.ChannelNames(),
		Controls:        a.Spec.Data.Controls,
		Threshold:       a.Diagnostics.Threshold,
		MaxRHat:         a.Diagnostics.MaxRHat,
		MinESS:          a.Diagnostics.MinESS,
		Converged:       a.Diagnostics.Converged(),
	}

	rhats := make([]float64, 0, len(a.Diagnostics.Params))
	for _, p := range a.Diagnostics.Params {
		data.Params = append(data.Params, paramRow{
			Name:    p.Name,
			RHat:    p.RHat,
			ESS:     p.ESS,
			Mean:    p.Mean,
			SD:      p.SD,
			Median:  p.Median,
			Q5:      p.Q5,
			Q95:     p.Q95,
			Flagged: p.RHat > a.Diagnostics.Threshold,
		})
		if !math.IsNaN(p.RHat) && !math.IsInf(p.RHat, 0) {
			rhats = append(rhats, p.RHat)
		}
	}
	sort.Slice(data.Params, func(i, j int) bool { return data.Params[i].Name < data.Params[j].Name })

	data.ROI = channelPosteriors(a)
	data.Boxplot = boxplotSVG(rhats, a.Diagnostics.Threshold)

	var buf bytes.Buffer
	if err := g.tmpl.ExecuteTemplate(&buf, "summary.html.tmpl", data); err != nil {
		return nil, fmt.Errorf("failed to render summary report: %w", err)
	}
	return buf.Bytes(), nil
}

// channelPosteriors extracts per-channel ROI summaries from the posterior.
func channelPosteriors(a *artifact.Artifact) []channelROI {
	if a.Posterior == nil {
		return nil
	}

	var out []channelROI
	for _, name := range a.Spec.ChannelNames() {
		draws := a.Posterior.Param("roi_" + name)
		if draws == nil {
			continue
		}
		var pooled []float64
		for _, chain := range draws.Chains {
			pooled = append(pooled, chain...)
		}
		if len(pooled) == 0 {
			continue
		}
		var sum float64
		for _, v := range pooled {
			sum += v
		}
		out = append(out, channelROI{
			Channel: name,
			Mean:    sum / float64(len(pooled)),
			Median:  diagnostics.Quantile(pooled, 0.5),
			Q5:      diagnostics.Quantile(pooled, 0.05),
			Q95:     diagnostics.Quantile(pooled, 0.95),
		})
	}
	return out
}

type allocationRow struct {
	Channel        string
	CurrentSpend   float64
	OptimizedSpend float64
	Delta          float64
	ROIMean        float64
}

type optimizeData struct {
	Name             string
	GeneratedAt      time.Time
	Budget           float64
	CurrentOutcome   float64
	OptimizedOutcome float64
	Lift             float64
	Allocations      []allocationRow
}

// Optimization renders the budget-allocation page.
func (g *Generator) Optimization(a *artifact.Artifact, result *inference.OptimizeResult) ([]byte, error) {
	if result == nil || len(result.Allocations) == 0 {
		return nil, fmt.Errorf("optimization result has no allocations")
	}

	data := optimizeData{
		Name:             a.Name,
		GeneratedAt:      time.Now().UTC(),
		CurrentOutcome:   result.CurrentOutcome,
		OptimizedOutcome: result.OptimizedOutcome,
		Lift:             result.Lift(),
	}
	for _, alloc := range result.Allocations {
		data.Budget += alloc.OptimizedSpend
		data.Allocations = append(data.Allocations, allocationRow{
			Channel:        alloc.Channel,
			CurrentSpend:   alloc.CurrentSpend,
			OptimizedSpend: alloc.OptimizedSpend,
			Delta:          alloc.OptimizedSpend - alloc.CurrentSpend,
			ROIMean:        alloc.ROIMean,
		})
	}

	var buf bytes.Buffer
	if err := g.tmpl.ExecuteTemplate(&buf, "optimize.html.tmpl", data); err != nil {
		return nil, fmt.Errorf("failed to render optimization report: %w", err)
	}
	return buf.Bytes(), nil
}

// WriteSummary renders the summary page to dir/summary.html.
func (g *Generator) WriteSummary(a *artifact.Artifact, dir string) (string, error) {
	html, err := g.Summary(a)
	if err != nil {
		return "", err
	}
	return writePage(dir, "summary.html", html)
}

// WriteOptimization renders the optimization page to dir/optimize.html.
func (g *Generator) WriteOptimization(a *artifact.Artifact, result *inference.OptimizeResult, dir string) (string, error) {
	html, err := g.Optimization(a, result)
	if err != nil {
		return "", err
	}
	return writePage(dir, "optimize.html", html)
}

func writePage(dir, name string, html []byte) (string, error) {
	if err := os.MkdirAll(dir, 0750); err != nil {
		return "", fmt.Errorf("failed to create report directory: %w", err)
	}
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, html, 0600); err != nil {
		return "", fmt.Errorf("failed to write %s: %w", name, err)
	}
	return path, nil
}

// kpiLabel renders the KPI kind for display.
func kpiLabel(kind string) string {
	return strings.ReplaceAll(kind, "_", " ")
}
