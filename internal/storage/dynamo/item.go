package dynamo

import (
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"consultscribe/internal/domain"
)

func consultationItem(c domain.Consultation) map[string]types.AttributeValue {
	notes := make([]types.AttributeValue, 0, len(c.Notes))
	for _, note := range c.Notes {
		notes = append(notes, noteAttr(note))
	}

	item := map[string]types.AttributeValue{
		"ID":        &types.AttributeValueMemberS{Value: c.ID},
		"StartTime": timeAttr(c.StartTime),
		"Status":    &types.AttributeValueMemberS{Value: string(c.Status)},
		"Notes":     &types.AttributeValueMemberL{Value: notes},
	}
	if c.EndTime != nil {
		item["EndTime"] = timeAttr(*c.EndTime)
	}
	if c.Summary != nil {
		item["Summary"] = summaryAttr(*c.Summary)
	}
	return item
}

func noteAttr(note domain.Note) types.AttributeValue {
	return &types.AttributeValueMemberM{Value: map[string]types.AttributeValue{
		"ID":        &types.AttributeValueMemberS{Value: note.ID},
		"Content":   &types.AttributeValueMemberS{Value: note.Content},
		"Timestamp": timeAttr(note.Timestamp),
	}}
}

func summaryAttr(summary domain.Summary) types.AttributeValue {
	return &types.AttributeValueMemberM{Value: map[string]types.AttributeValue{
		"ID":        &types.AttributeValueMemberS{Value: summary.ID},
		"Content":   &types.AttributeValueMemberS{Value: summary.Content},
		"CreatedAt": timeAttr(summary.CreatedAt),
	}}
}

func timeAttr(t time.Time) types.AttributeValue {
	return &types.AttributeValueMemberS{Value: t.UTC().Format(time.RFC3339Nano)}
}

func consultationFromItem(item map[string]types.AttributeValue) (domain.Consultation, error) {
	var c domain.Consultation
	var err error

	c.ID = stringAttr(item, "ID")
	c.Status = domain.ConsultationStatus(stringAttr(item, "Status"))
	if c.StartTime, err = parseTime(item, "StartTime"); err != nil {
		return domain.Consultation{}, err
	}
	if _, ok := item["EndTime"]; ok {
		end, err := parseTime(item, "EndTime")
		if err != nil {
			return domain.Consultation{}, err
		}
		c.EndTime = &end
	}

	c.Notes = []domain.Note{}
	if list, ok := item["Notes"].(*types.AttributeValueMemberL); ok {
		for _, raw := range list.Value {
			m, ok := raw.(*types.AttributeValueMemberM)
			if !ok {
				return domain.Consultation{}, fmt.Errorf("consultation %s: malformed note", c.ID)
			}
			ts, err := parseTime(m.Value, "Timestamp")
			if err != nil {
				return domain.Consultation{}, err
			}
			c.Notes = append(c.Notes, domain.Note{
				ID:             stringAttr(m.Value, "ID"),
				ConsultationID: c.ID,
				Content:        stringAttr(m.Value, "Content"),
				Timestamp:      ts,
			})
		}
	}

	if m, ok := item["Summary"].(*types.AttributeValueMemberM); ok {
		created, err := parseTime(m.Value, "CreatedAt")
		if err != nil {
			return domain.Consultation{}, err
		}
		c.Summary = &domain.Summary{
			ID:             stringAttr(m.Value, "ID"),
			ConsultationID: c.ID,
			Content:        stringAttr(m.Value, "Content"),
			CreatedAt:      created,
		}
	}
	return c, nil
}

func stringAttr(item map[string]types.AttributeValue, key string) string {
	if v, ok := item[key].(*types.AttributeValueMemberS); ok {
		return v.Value
	}
	return ""
}

func parseTime(item map[string]types.AttributeValue, key string) (time.Time, error) {
	raw := stringAttr(item, key)
	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse %s %q: %w", key, raw, err)
	}
	return t, nil
}
