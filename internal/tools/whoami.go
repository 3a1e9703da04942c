package tools

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/powerapps-dev/dataverse-mcp/internal/dataverse"
	"github.com/powerapps-dev/dataverse-mcp/mcpservice"
)

// ErrEnvironmentNotConfigured is reported by who_am_i when the server was
// started without an environment URL.
var ErrEnvironmentNotConfigured = errors.New("environment url not configured")

// environmentNotConfiguredMessage is the error text who_am_i shows to the
// caller for ErrEnvironmentNotConfigured.
const environmentNotConfiguredMessage = "Environment URL not configured. Please specify --environment-url when starting the server."

// Directory is the part of the Dataverse client who_am_i depends on.
type Directory interface {
	EnvironmentURL() string
	WhoAmI(ctx context.Context) (*dataverse.WhoAmIResponse, error)
}

var _ Directory = (*dataverse.Client)(nil)

// ConfigurationError marks failures caused by missing or unusable startup
// configuration rather than by Dataverse itself.
type ConfigurationError struct {
	Err error
}

func (e *ConfigurationError) Error() string     { return e.Err.Error() }
func (e *ConfigurationError) Unwrap() error     { return e.Err }
func (e *ConfigurationError) ErrorType() string { return "ConfigurationError" }

// Unavailable returns a Directory for an environment that is configured but
// cannot be reached, e.g. because no credentials were supplied. Every lookup
// fails with err wrapped in a ConfigurationError.
func Unavailable(environmentURL string, err error) Directory {
	return unavailable{url: environmentURL, err: &ConfigurationError{Err: err}}
}

type unavailable struct {
	url string
	err error
}

func (u unavailable) EnvironmentURL() string { return u.url }

func (u unavailable) WhoAmI(context.Context) (*dataverse.WhoAmIResponse, error) {
	return nil, u.err
}

// WhoAmIArgs is empty: the environment comes from startup configuration.
type WhoAmIArgs struct{}

// whoAmIResult is the JSON document returned in who_am_i's text block for
// both outcomes.
type whoAmIResult struct {
	Success        bool                 `json:"success"`
	UserID         uuid.UUID            `json:"userId,omitzero"`
	BusinessUnitID uuid.UUID            `json:"businessUnitId,omitzero"`
	OrganizationID uuid.UUID            `json:"organizationId,omitzero"`
	EnvironmentURL string               `json:"environmentUrl,omitempty"`
	Principal      *dataverse.Principal `json:"principal,omitempty"`
	Error          string               `json:"error,omitempty"`
	Type           string               `json:"type,omitempty"`
	Timestamp      time.Time            `json:"timestamp"`
}

func whoAmIFailure(err error, at time.Time) whoAmIResult {
	f := mcpservice.NewFailure(err, at)
	return whoAmIResult{
		Success:   false,
		Error:     f.Error,
		Type:      f.Type,
		Timestamp: f.Timestamp,
	}
}

// WhoAmI asks Dataverse who the server is authenticated as. A nil dir means
// the server has no environment configured; the call then reports failure
// without touching the network.
func WhoAmI(dir Directory, now func() time.Time) mcpservice.StaticTool {
	return mcpservice.NewTool(
		WhoAmIToolName,
		func(ctx context.Context, w mcpservice.ToolResponseWriter, r *mcpservice.ToolRequest[WhoAmIArgs]) error {
			res := lookupIdentity(ctx, dir, now)
			if !res.Success {
				w.SetError(true)
			}
			return w.AppendJSON(res)
		},
		mcpservice.WithToolDescription("Connects to Microsoft Dataverse and returns information about the authenticated user using WhoAmI request."),
		mcpservice.WithToolClock(now),
	)
}

func lookupIdentity(ctx context.Context, dir Directory, now func() time.Time) whoAmIResult {
	if dir == nil || dir.EnvironmentURL() == "" {
		res := whoAmIFailure(&ConfigurationError{Err: ErrEnvironmentNotConfigured}, now())
		res.Error = environmentNotConfiguredMessage
		return res
	}
	who, err := dir.WhoAmI(ctx)
	if err != nil {
		return whoAmIFailure(err, now())
	}
	return whoAmIResult{
		Success:        true,
		UserID:         who.UserID,
		BusinessUnitID: who.BusinessUnitID,
		OrganizationID: who.OrganizationID,
		EnvironmentURL: dir.EnvironmentURL(),
		Principal:      who.Principal,
		Timestamp:      now().UTC(),
	}
}
