package tools

import "context"

// Names of the tools every relay serves.
const (
	HealthCheck = "health_check"
	Echo        = "echo"
)

// RegisterBuiltins adds health_check and echo to r.
func RegisterBuiltins(r *Registry) error {
	if err := r.Register(HealthCheck, "Report relay health", func(context.Context, map[string]interface{}) (interface{}, error) {
		return map[string]string{"status": "healthy"}, nil
	}); err != nil {
		return err
	}
	return r.Register(Echo, "Return the call arguments unchanged", func(_ context.Context, args map[string]interface{}) (interface{}, error) {
		return args, nil
	})
}
