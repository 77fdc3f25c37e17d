package store

import (
	"context"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"bruinhooks/internal/model"
)

type seedFile struct {
	Subscriptions []model.SubscriptionInput `yaml:"subscriptions"`
}

// LoadSeed reads a YAML file with a top-level "subscriptions" list.
func LoadSeed(path string) ([]model.SubscriptionInput, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read seed: %w", err)
	}
	var f seedFile
	if err := yaml.Unmarshal(b, &f); err != nil {
		return nil, fmt.Errorf("parse seed %s: %w", path, err)
	}
	return f.Subscriptions, nil
}

// ApplySeed registers every input whose URL is not already registered and returns the
// number created.
func ApplySeed(ctx context.Context, reg Registry, inputs []model.SubscriptionInput) (int, error) {
	existing, err := reg.ListSubscriptions(ctx)
	if err != nil {
		return 0, err
	}
	seen := make(map[string]struct{}, len(existing))
	for _, s := range existing {
		seen[s.URL] = struct{}{}
	}
	created := 0
	for i, in := range inputs {
		if err := in.Validate(); err != nil {
			return created, fmt.Errorf("seed entry %d: %w", i, err)
		}
		if _, ok := seen[in.URL]; ok {
			continue
		}
		if _, err := reg.CreateSubscription(ctx, in); err != nil {
			return created, fmt.Errorf("seed entry %d: %w", i, err)
		}
		seen[in.URL] = struct{}{}
		created++
	}
	return created, nil
}
