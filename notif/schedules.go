package notif

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/notif-sh/notif-go/models"
	"go.opentelemetry.io/otel/attribute"
)

// ScheduleAt emits data under topic at the given time.
func (c *Client) ScheduleAt(ctx context.Context, topic string, data any, at time.Time) (*models.CreateScheduleResponse, error) {
	return c.schedule(ctx, topic, data, func(r *models.ScheduleRequest) { r.ScheduledFor = &at })
}

// ScheduleIn emits data under topic after a delay such as "30m" or "2h".
func (c *Client) ScheduleIn(ctx context.Context, topic string, data any, in string) (*models.CreateScheduleResponse, error) {
	return c.schedule(ctx, topic, data, func(r *models.ScheduleRequest) { r.In = in })
}

func (c *Client) schedule(ctx context.Context, topic string, data any, when func(*models.ScheduleRequest)) (*models.CreateScheduleResponse, error) {
	if topic == "" {
		return nil, ErrEmptyTopic
	}
	raw, err := marshalData(data)
	if err != nil {
		return nil, err
	}
	req := models.ScheduleRequest{Topic: topic, Data: raw}
	when(&req)

	var resp models.CreateScheduleResponse
	err = c.call(ctx, "schedule_create", []attribute.KeyValue{attribute.String("notif.topic", topic)}, func(ctx context.Context) error {
		return c.do(ctx, http.MethodPost, "/api/v1/schedules", nil, req, &resp)
	})
	if err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) ListSchedules(ctx context.Context, opts models.ListSchedulesOptions) (*models.ScheduleList, error) {
	q := url.Values{}
	if opts.Status != "" {
		q.Set("status", string(opts.Status))
	}
	if opts.Limit > 0 {
		q.Set("limit", strconv.Itoa(opts.Limit))
	}
	if opts.Offset > 0 {
		q.Set("offset", strconv.Itoa(opts.Offset))
	}

	var resp models.ScheduleList
	err := c.call(ctx, "schedule_list", nil, func(ctx context.Context) error {
		return c.do(ctx, http.MethodGet, "/api/v1/schedules", q, nil, &resp)
	})
	if err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) GetSchedule(ctx context.Context, id string) (*models.Schedule, error) {
	var resp models.Schedule
	err := c.call(ctx, "schedule_get", scheduleAttrs(id), func(ctx context.Context) error {
		return c.do(ctx, http.MethodGet, "/api/v1/schedules/"+url.PathEscape(id), nil, nil, &resp)
	})
	if err != nil {
		return nil, err
	}
	return &resp, nil
}

// CancelSchedule cancels a pending schedule.
func (c *Client) CancelSchedule(ctx context.Context, id string) error {
	return c.call(ctx, "schedule_cancel", scheduleAttrs(id), func(ctx context.Context) error {
		return c.do(ctx, http.MethodDelete, "/api/v1/schedules/"+url.PathEscape(id), nil, nil, nil)
	})
}

// RunSchedule emits a pending schedule immediately.
func (c *Client) RunSchedule(ctx context.Context, id string) (*models.RunScheduleResponse, error) {
	var resp models.RunScheduleResponse
	err := c.call(ctx, "schedule_run", scheduleAttrs(id), func(ctx context.Context) error {
		return c.do(ctx, http.MethodPost, "/api/v1/schedules/"+url.PathEscape(id)+"/run", nil, nil, &resp)
	})
	if err != nil {
		return nil, err
	}
	return &resp, nil
}

func scheduleAttrs(id string) []attribute.KeyValue {
	return []attribute.KeyValue{attribute.String("notif.schedule_id", id)}
}
