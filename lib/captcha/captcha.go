package captcha

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	random "github.com/mazen160/go-random"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"

	"docharvest/lib/telemetry"
)

var tracer = otel.Tracer("captcha")

var ErrUnavailable = fmt.Errorf("captcha service unavailable")

// Challenge describes a recaptcha-style widget found on a login page.
type Challenge struct {
	SiteURL string
	SiteKey string
}

// Solver turns a challenge into the token the portal's login form
// expects in its captcha callback slot.
type Solver interface {
	Solve(ctx context.Context, challenge Challenge) (string, error)
}

type ClientOptions struct {
	BaseUrl string
	ApiKey  string
	// how many polls before giving up, defaults to 24
	PollBudget int
	// base delay between polls, defaults to 5s
	PollInterval time.Duration
}

// Client talks to a create-task/poll-result solving service.
type Client struct {
	http         *resty.Client
	apiKey       string
	pollBudget   int
	pollInterval time.Duration
}

func NewClient(opts ClientOptions) *Client {
	client := resty.New()
	client.SetBaseURL(opts.BaseUrl)
	client.SetTimeout(time.Second * 30)
	telemetry.InstrumentResty(client, "captcha/http")

	if opts.PollBudget == 0 {
		opts.PollBudget = 24
	}
	if opts.PollInterval == 0 {
		opts.PollInterval = time.Second * 5
	}
	return &Client{
		http:         client,
		apiKey:       opts.ApiKey,
		pollBudget:   opts.PollBudget,
		pollInterval: opts.PollInterval,
	}
}

type createTaskRequest struct {
	ClientKey string `json:"clientKey"`
	Task      struct {
		Type       string `json:"type"`
		WebsiteURL string `json:"websiteURL"`
		WebsiteKey string `json:"websiteKey"`
	} `json:"task"`
}

type createTaskResponse struct {
	ErrorId int    `json:"errorId"`
	TaskId  int64  `json:"taskId"`
	Error   string `json:"errorDescription"`
}

type taskResultRequest struct {
	ClientKey string `json:"clientKey"`
	TaskId    int64  `json:"taskId"`
}

type taskResultResponse struct {
	ErrorId  int    `json:"errorId"`
	Status   string `json:"status"`
	Error    string `json:"errorDescription"`
	Solution struct {
		Token string `json:"gRecaptchaResponse"`
	} `json:"solution"`
}

func (c *Client) Solve(ctx context.Context, challenge Challenge) (string, error) {
	ctx, span := tracer.Start(ctx, "Solve")
	defer span.End()

	body := createTaskRequest{ClientKey: c.apiKey}
	body.Task.Type = "RecaptchaV3TaskProxyless"
	body.Task.WebsiteURL = challenge.SiteURL
	body.Task.WebsiteKey = challenge.SiteKey

	var created createTaskResponse
	res, err := c.http.R().
		SetContext(ctx).
		SetBody(body).
		SetResult(&created).
		Post("/createTask")
	if err != nil {
		span.SetStatus(codes.Error, "failed to create solve task")
		return "", fmt.Errorf("%w: %s", ErrUnavailable, err)
	}
	if res.StatusCode() != 200 || created.ErrorId != 0 {
		span.SetStatus(codes.Error, "solve task rejected")
		return "", fmt.Errorf("%w: %s", ErrUnavailable, created.Error)
	}

	for i := 0; i < c.pollBudget; i++ {
		// jitter the polls a little so a burst of harvesters doesn't
		// hit the service in lockstep
		jitter, err := random.IntRange(0, 1000)
		if err != nil {
			jitter = 0
		}
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(c.pollInterval + time.Duration(jitter)*time.Millisecond):
		}

		var result taskResultResponse
		res, err := c.http.R().
			SetContext(ctx).
			SetBody(taskResultRequest{ClientKey: c.apiKey, TaskId: created.TaskId}).
			SetResult(&result).
			Post("/getTaskResult")
		if err != nil {
			span.SetStatus(codes.Error, "failed to poll solve task")
			return "", fmt.Errorf("%w: %s", ErrUnavailable, err)
		}
		if res.StatusCode() != 200 || result.ErrorId != 0 {
			span.SetStatus(codes.Error, "solve task failed")
			return "", fmt.Errorf("%w: %s", ErrUnavailable, result.Error)
		}
		if result.Status == "ready" {
			return result.Solution.Token, nil
		}
	}

	span.SetStatus(codes.Error, "poll budget exhausted")
	return "", fmt.Errorf("%w: solve did not finish in time", ErrUnavailable)
}
