/*
Package health provides a small toolkit of reusable health checkers —
HTTP, TCP, and Exec — independent of any particular dependency.

This is distinct from pkg/metrics's component registry (health.go),
which aggregates named components into the service's own /health,
/health/live, and /health/ready JSON endpoints. This package supplies
the individual probes that feed that registry, and is also used
directly at startup for one-shot checks that don't need to be exposed
over HTTP (see cmd/bin2nlp/serve.go's disassembler tool probe).

# Checker Types

HTTP Checker:

	checker := health.NewHTTPChecker("http://localhost:11434/api/tags").
		WithStatusRange(200, 299).
		WithTimeout(5 * time.Second)
	result := checker.Check(ctx)

Used by pkg/metrics's Collector to reprobe a configured local LLM
provider's OpenAI-compatible HTTP endpoint on every collection tick.

TCP Checker:

	checker := health.NewTCPChecker("localhost:6379").WithTimeout(2 * time.Second)
	result := checker.Check(ctx)

Used for lightweight reachability probes of dependencies exposed only as
a TCP listener.

Exec Checker:

	checker := health.NewExecChecker([]string{cfg.DisassemblerPath, "-v"})
	result := checker.Check(ctx)

Used at startup to confirm the configured disassembler binary actually
exists and runs, so a misconfiguration surfaces as a log warning rather
than as the first job's failure.

# Status Tracking

Status implements hysteresis over repeated Check() calls so a single
flaky probe does not flip a component's reported health:

	status := health.NewStatus()
	config := health.Config{Interval: 30 * time.Second, Timeout: 5 * time.Second, Retries: 3}
	status.Update(checker.Check(ctx), config)
	if !status.Healthy {
		// act on sustained failure
	}

# See Also

  - pkg/metrics/health.go - the aggregate component registry and HTTP handlers
  - cmd/bin2nlp/serve.go - wires ExecChecker into service startup
*/
package health
