package metadata

import (
	"context"
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/msageha/tcexec/internal/model"
)

// Fixtures is the YAML seed format for the metadata store.
type Fixtures struct {
	Projects []ProjectFixture `yaml:"projects"`
}

type ProjectFixture struct {
	Name   string           `yaml:"name"`
	Prefix string           `yaml:"prefix"`
	Cases  []model.CaseInfo `yaml:"cases"`
	Plans  []PlanFixture    `yaml:"plans"`
}

type PlanFixture struct {
	Name        string `yaml:"name"`
	Active      *bool  `yaml:"active,omitempty"`
	Description string `yaml:"description,omitempty"`
	// Cases lists internal ids in plan order.
	Cases []int `yaml:"cases"`
}

// ReadFixtures parses a fixtures file.
func ReadFixtures(path string) (*Fixtures, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read fixtures %s: %w", path, err)
	}
	var f Fixtures
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse fixtures %s: %w", path, err)
	}
	return &f, nil
}

// LoadFixtures seeds the store from a fixtures file. Loading is idempotent.
func (s *Store) LoadFixtures(ctx context.Context, path string) error {
	f, err := ReadFixtures(path)
	if err != nil {
		return err
	}
	return s.Seed(ctx, f)
}

func (s *Store) Seed(ctx context.Context, f *Fixtures) error {
	for _, p := range f.Projects {
		if p.Name == "" {
			return errors.New("fixture project without name")
		}
		if err := s.UpsertProject(ctx, p.Name, p.Prefix); err != nil {
			return err
		}
		for _, c := range p.Cases {
			c.ProjectName = p.Name
			if err := s.UpsertCase(ctx, c); err != nil {
				return err
			}
		}
		for _, pl := range p.Plans {
			active := true
			if pl.Active != nil {
				active = *pl.Active
			}
			planID, err := s.UpsertPlan(ctx, model.PlanInfo{
				Name:        pl.Name,
				ProjectName: p.Name,
				Active:      active,
				Description: pl.Description,
			})
			if err != nil {
				return err
			}
			for _, id := range pl.Cases {
				if err := s.AddCaseToPlan(ctx, planID, id, 0); err != nil {
					return err
				}
			}
		}
	}
	return nil
}
