package membership

// HealthReporter is implemented by layers that expose a health score. Higher
// scores indicate degraded local health; -1 means not started.
type HealthReporter interface {
    HealthScore() int
}
