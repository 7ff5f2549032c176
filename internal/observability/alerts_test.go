package observability

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"gopkg.in/yaml.v3"
)

type alertRule struct {
	Alert       string            `yaml:"alert"`
	Expr        string            `yaml:"expr"`
	For         string            `yaml:"for"`
	Labels      map[string]string `yaml:"labels"`
	Annotations map[string]string `yaml:"annotations"`
}

type alertGroup struct {
	Name  string      `yaml:"name"`
	Rules []alertRule `yaml:"rules"`
}

type alertSpec struct {
	Groups []alertGroup `yaml:"groups"`
}

func TestAlertRules(t *testing.T) {
	path := filepath.Join("..", "..", "deploy", "prometheus", "alerts", "topoclimb.yml")
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("failed to read alert file: %v", err)
	}

	var spec alertSpec
	if err := yaml.Unmarshal(data, &spec); err != nil {
		t.Fatalf("failed to unmarshal alert file: %v", err)
	}

	var group *alertGroup
	for i := range spec.Groups {
		if spec.Groups[i].Name == "topoclimb" {
			group = &spec.Groups[i]
			break
		}
	}
	if group == nil {
		t.Fatal("topoclimb alert group missing")
	}

	expected := map[string]struct {
		severity string
		runbook  string
		metric   string
	}{
		"HighErrorRate":       {severity: "critical", runbook: "docs/runbook.md#high-error-rate", metric: "topoclimb_http_requests_total"},
		"CSRFRejectionSpike":  {severity: "warning", runbook: "docs/runbook.md#csrf-rejection-spike", metric: "topoclimb_security_rejections_total"},
		"OpenRedirectProbing": {severity: "warning", runbook: "docs/runbook.md#open-redirect-probing", metric: "topoclimb_security_rejections_total"},
		"SectorStatsStale":    {severity: "warning", runbook: "docs/runbook.md#sector-stats-stale", metric: "topoclimb_sector_stats_refreshed_timestamp_seconds"},
	}

	if len(group.Rules) != len(expected) {
		t.Fatalf("expected %d rules, got %d", len(expected), len(group.Rules))
	}

	for _, rule := range group.Rules {
		want, ok := expected[rule.Alert]
		if !ok {
			t.Fatalf("unexpected rule %q", rule.Alert)
		}
		if rule.Labels["severity"] != want.severity {
			t.Fatalf("rule %s severity mismatch: %s", rule.Alert, rule.Labels["severity"])
		}
		if rule.Annotations["runbook"] != want.runbook {
			t.Fatalf("rule %s runbook mismatch: %s", rule.Alert, rule.Annotations["runbook"])
		}
		if rule.Annotations["summary"] == "" || rule.Annotations["description"] == "" {
			t.Fatalf("rule %s must include summary and description annotations", rule.Alert)
		}
		if !strings.Contains(rule.Expr, want.metric) {
			t.Fatalf("rule %s must query %s, got %q", rule.Alert, want.metric, rule.Expr)
		}
		if rule.For == "" {
			t.Fatalf("rule %s must define a hold duration", rule.Alert)
		}
	}
}

type scrapeConfig struct {
	RuleFiles     []string `yaml:"rule_files"`
	ScrapeConfigs []struct {
		JobName       string `yaml:"job_name"`
		MetricsPath   string `yaml:"metrics_path"`
		StaticConfigs []struct {
			Targets []string `yaml:"targets"`
		} `yaml:"static_configs"`
	} `yaml:"scrape_configs"`
}

// The stats alert only works if the worker registry is scraped next to the web one.
func TestScrapeConfigCoversWorker(t *testing.T) {
	data, err := os.ReadFile(filepath.Join("..", "..", "deploy", "prometheus", "prometheus.yml"))
	if err != nil {
		t.Fatalf("failed to read scrape config: %v", err)
	}
	var cfg scrapeConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		t.Fatalf("failed to unmarshal scrape config: %v", err)
	}

	targets := map[string][]string{}
	for _, sc := range cfg.ScrapeConfigs {
		if sc.MetricsPath != "/metrics" {
			t.Fatalf("job %s must scrape /metrics, got %q", sc.JobName, sc.MetricsPath)
		}
		for _, static := range sc.StaticConfigs {
			targets[sc.JobName] = append(targets[sc.JobName], static.Targets...)
		}
	}
	if len(targets["topoclimb-web"]) == 0 {
		t.Fatal("web scrape target missing")
	}
	worker := targets["topoclimb-worker"]
	if len(worker) == 0 || !strings.HasSuffix(worker[0], ":9091") {
		t.Fatalf("worker scrape target must use the worker metrics port, got %v", worker)
	}
	if len(cfg.RuleFiles) != 1 || cfg.RuleFiles[0] != "alerts/topoclimb.yml" {
		t.Fatalf("unexpected rule files: %v", cfg.RuleFiles)
	}
}
