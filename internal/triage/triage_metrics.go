package triage

import "github.com/prometheus/client_golang/prometheus"

// Hooks receives triage events. Nil fields are skipped.
type Hooks struct {
	OnInvoke   func(stage Stage, duration float64, err error)
	OnFallback func(stage Stage)
	OnStep     func(outcome StepOutcome)
	OnAnalyze  func(route Route, partial bool, err error)
	OnRefine   func(err error)
	OnComplete func(action ActionKind)
	OnUndo     func()
	OnRejected func(op string)
}

func (h Hooks) invoke(stage Stage, duration float64, err error) {
	if h.OnInvoke != nil {
		h.OnInvoke(stage, duration, err)
	}
}

func (h Hooks) fallback(stage Stage) {
	if h.OnFallback != nil {
		h.OnFallback(stage)
	}
}

func (h Hooks) step(outcome StepOutcome) {
	if h.OnStep != nil {
		h.OnStep(outcome)
	}
}

func (h Hooks) analyze(route Route, partial bool, err error) {
	if h.OnAnalyze != nil {
		h.OnAnalyze(route, partial, err)
	}
}

func (h Hooks) refine(err error) {
	if h.OnRefine != nil {
		h.OnRefine(err)
	}
}

func (h Hooks) complete(action ActionKind) {
	if h.OnComplete != nil {
		h.OnComplete(action)
	}
}

func (h Hooks) undo() {
	if h.OnUndo != nil {
		h.OnUndo()
	}
}

func (h Hooks) rejected(op string) {
	if h.OnRejected != nil {
		h.OnRejected(op)
	}
}

// Metrics holds Prometheus metrics for the triage subsystem.
type Metrics struct {
	ModelCallsTotal     *prometheus.CounterVec
	ModelCallDuration   *prometheus.HistogramVec
	FallbacksTotal      *prometheus.CounterVec
	ScanStepsTotal      *prometheus.CounterVec
	AnalysesTotal       *prometheus.CounterVec
	RefinementsTotal    *prometheus.CounterVec
	CompletionsTotal    *prometheus.CounterVec
	UndosTotal          prometheus.Counter
	RejectedTransitions *prometheus.CounterVec
	LLMTokensIn         prometheus.Counter
	LLMTokensOut        prometheus.Counter
}

// NewMetrics registers and returns triage metrics on the given registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		ModelCallsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "triageflow_model_calls_total",
			Help: "Model invocations by stage and status.",
		}, []string{"stage", "status"}),
		ModelCallDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "triageflow_model_call_duration_seconds",
			Help:    "Duration of model invocations in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.25, 2, 9), // 0.25s .. 64s
		}, []string{"stage"}),
		FallbacksTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "triageflow_fallbacks_total",
			Help: "Stages that degraded because no model is configured.",
		}, []string{"stage"}),
		ScanStepsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "triageflow_scan_steps_total",
			Help: "Gatekeeper scan steps by outcome.",
		}, []string{"outcome"}),
		AnalysesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "triageflow_analyses_total",
			Help: "Item analyses by route and result.",
		}, []string{"route", "result"}),
		RefinementsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "triageflow_refinements_total",
			Help: "Draft refinements by result.",
		}, []string{"result"}),
		CompletionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "triageflow_completions_total",
			Help: "Terminal actions recorded by kind.",
		}, []string{"action"}),
		UndosTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "triageflow_undos_total",
			Help: "Terminal actions undone.",
		}),
		RejectedTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "triageflow_rejected_transitions_total",
			Help: "Requests rejected because a transition was already in flight.",
		}, []string{"op"}),
		LLMTokensIn: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "triageflow_llm_tokens_input_total",
			Help: "Total LLM input tokens consumed.",
		}),
		LLMTokensOut: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "triageflow_llm_tokens_output_total",
			Help: "Total LLM output tokens consumed.",
		}),
	}

	reg.MustRegister(
		m.ModelCallsTotal,
		m.ModelCallDuration,
		m.FallbacksTotal,
		m.ScanStepsTotal,
		m.AnalysesTotal,
		m.RefinementsTotal,
		m.CompletionsTotal,
		m.UndosTotal,
		m.RejectedTransitions,
		m.LLMTokensIn,
		m.LLMTokensOut,
	)

	return m
}

// ObserveTokens adds token usage reported by a model backend.
func (m *Metrics) ObserveTokens(in, out int) {
	m.LLMTokensIn.Add(float64(in))
	m.LLMTokensOut.Add(float64(out))
}

// Hooks returns Hooks that increment the corresponding metrics.
func (m *Metrics) Hooks() Hooks {
	return Hooks{
		OnInvoke: func(stage Stage, duration float64, err error) {
			m.ModelCallsTotal.WithLabelValues(string(stage), resultLabel(err)).Inc()
			m.ModelCallDuration.WithLabelValues(string(stage)).Observe(duration)
		},
		OnFallback: func(stage Stage) {
			m.FallbacksTotal.WithLabelValues(string(stage)).Inc()
		},
		OnStep: func(outcome StepOutcome) {
			m.ScanStepsTotal.WithLabelValues(string(outcome)).Inc()
		},
		OnAnalyze: func(route Route, partial bool, err error) {
			result := resultLabel(err)
			if err == nil && partial {
				result = "partial"
			}
			m.AnalysesTotal.WithLabelValues(string(route), result).Inc()
		},
		OnRefine: func(err error) {
			m.RefinementsTotal.WithLabelValues(resultLabel(err)).Inc()
		},
		OnComplete: func(action ActionKind) {
			m.CompletionsTotal.WithLabelValues(string(action)).Inc()
		},
		OnUndo: func() {
			m.UndosTotal.Inc()
		},
		OnRejected: func(op string) {
			m.RejectedTransitions.WithLabelValues(op).Inc()
		},
	}
}

func resultLabel(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}
