package neo4j

import (
	"context"
	"fmt"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/hr-platform/backend/internal/storage/models"
	"github.com/hr-platform/backend/pkg/config"
	"github.com/hr-platform/backend/pkg/logger"
	"github.com/hr-platform/backend/pkg/retry"
)

const opTimeout = 10 * time.Second

// Client mirrors employee skills into a graph of
// (:Employee)-[:HAS_SKILL]->(:Skill). The relational store stays the source
// of truth; the graph is rebuilt from it on every projection.
type Client struct {
	driver      neo4j.DriverWithContext
	database    string
	cb          *gobreaker.CircuitBreaker
	retryConfig retry.Config
}

func NewClient(ctx context.Context, cfg config.GraphConfig) (*Client, error) {
	driver, err := neo4j.NewDriverWithContext(
		cfg.URI,
		neo4j.BasicAuth(cfg.Username, cfg.Password, ""),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create neo4j driver: %w", err)
	}

	vctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()
	if err := driver.VerifyConnectivity(vctx); err != nil {
		driver.Close(ctx)
		return nil, fmt.Errorf("failed to verify connectivity: %w", err)
	}

	database := cfg.Database
	if database == "" {
		database = "neo4j"
	}

	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "neo4j",
		MaxRequests: 3,
		Interval:    time.Minute,
		Timeout:     20 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("Circuit breaker state changed",
				zap.String("name", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
	})

	retryConfig := retry.Config{
		MaxAttempts:    3,
		InitialDelay:   200 * time.Millisecond,
		MaxDelay:       3 * time.Second,
		Multiplier:     2.0,
		JitterFraction: 0.1,
		Retryable:      neo4j.IsRetryable,
		Logger:         logger.GetLogger(),
	}

	logger.Info("Neo4j client initialized", zap.String("uri", cfg.URI), zap.String("database", database))

	return &Client{
		driver:      driver,
		database:    database,
		cb:          cb,
		retryConfig: retryConfig,
	}, nil
}

func (c *Client) Close(ctx context.Context) error {
	return c.driver.Close(ctx)
}

func (c *Client) executeWrite(ctx context.Context, work neo4j.ManagedTransactionWork) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	_, err := c.cb.Execute(func() (interface{}, error) {
		return nil, retry.Do(ctx, c.retryConfig, func() error {
			session := c.driver.NewSession(ctx, neo4j.SessionConfig{
				DatabaseName: c.database,
				AccessMode:   neo4j.AccessModeWrite,
			})
			defer session.Close(ctx)
			_, err := session.ExecuteWrite(ctx, work)
			return err
		})
	})
	return err
}

const projectSkillsQuery = `
	MERGE (e:Employee {tenant_id: $tenant_id, employee_id: $employee_id})
	SET e.updated_at = timestamp()
	WITH e
	OPTIONAL MATCH (e)-[old:HAS_SKILL]->(k:Skill)
	WHERE NOT k.skill_id IN $skill_ids
	DELETE old
	WITH DISTINCT e
	UNWIND $skills AS s
	MERGE (k:Skill {skill_id: s.skill_id})
	MERGE (e)-[r:HAS_SKILL]->(k)
	SET r.proficiency = s.proficiency,
	    r.years_experience = s.years_experience,
	    r.last_used = s.last_used,
	    r.source = s.source
`

// ProjectSkills replaces the employee's HAS_SKILL edges with skills.
func (c *Client) ProjectSkills(ctx context.Context, tenantID string, employeeID int64, skills []models.SkillFact) error {
	params := skillParams(tenantID, employeeID, skills)

	err := c.executeWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		result, err := tx.Run(ctx, projectSkillsQuery, params)
		if err != nil {
			return nil, err
		}
		return result.Consume(ctx)
	})
	if err != nil {
		return fmt.Errorf("failed to project skills: %w", err)
	}

	logger.Debug("Skills projected to graph",
		zap.String("tenant_id", tenantID),
		zap.Int64("employee_id", employeeID),
		zap.Int("skills", len(skills)),
	)
	return nil
}

func skillParams(tenantID string, employeeID int64, skills []models.SkillFact) map[string]any {
	ids := make([]any, 0, len(skills))
	rows := make([]any, 0, len(skills))
	for _, s := range skills {
		ids = append(ids, s.SkillID)
		row := map[string]any{
			"skill_id":         s.SkillID,
			"source":           s.Source,
			"proficiency":      nil,
			"years_experience": nil,
			"last_used":        nil,
		}
		if s.ProficiencyLevel != nil {
			row["proficiency"] = *s.ProficiencyLevel
		}
		if s.YearsExperience != nil {
			row["years_experience"] = *s.YearsExperience
		}
		if s.LastUsedDate != nil {
			row["last_used"] = *s.LastUsedDate
		}
		rows = append(rows, row)
	}
	return map[string]any{
		"tenant_id":   tenantID,
		"employee_id": employeeID,
		"skill_ids":   ids,
		"skills":      rows,
	}
}
