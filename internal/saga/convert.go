package saga

import (
	domainsaga "github.com/sisques-labs/project-starter-sub009/internal/domain/saga"
	"github.com/sisques-labs/project-starter-sub009/internal/models"
)

func stepFromModel(m models.SagaStep) domainsaga.Step {
	return domainsaga.Step{
		ID:           m.ID,
		InstanceID:   m.SagaInstanceID,
		Name:         m.Name,
		Order:        m.Order,
		Status:       domainsaga.StepStatus(m.Status),
		StartDate:    m.StartDate,
		EndDate:      m.EndDate,
		ErrorMessage: m.ErrorMessage,
		RetryCount:   m.RetryCount,
		MaxRetries:   m.MaxRetries,
		Payload:      m.Payload,
		Result:       m.Result,
	}
}

func stepsFromModels(rows []models.SagaStep) []domainsaga.Step {
	steps := make([]domainsaga.Step, 0, len(rows))
	for _, row := range rows {
		steps = append(steps, stepFromModel(row))
	}
	return steps
}

func stepUpdates(s *domainsaga.Step) map[string]any {
	return map[string]any{
		"status":        string(s.Status),
		"start_date":    s.StartDate,
		"end_date":      s.EndDate,
		"error_message": s.ErrorMessage,
		"retry_count":   s.RetryCount,
		"result":        s.Result,
	}
}

func instanceFromModel(m models.SagaInstance) domainsaga.Instance {
	return domainsaga.Instance{
		ID:        m.ID,
		Name:      m.Name,
		Status:    domainsaga.InstanceStatus(m.Status),
		StartDate: m.StartDate,
		EndDate:   m.EndDate,
	}
}

func instanceUpdates(i *domainsaga.Instance) map[string]any {
	return map[string]any{
		"status":     string(i.Status),
		"start_date": i.StartDate,
		"end_date":   i.EndDate,
	}
}
