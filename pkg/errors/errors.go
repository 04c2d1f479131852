// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/samber/oops"
)

// Code is the machine-readable identifier for an error.
type Code string

const (
	CodeChunkerOptionsInvalid Code = "chunker.options.invalid"

	CodeEmbeddingRequestInvalid  Code = "embedding.request.invalid_input"
	CodeEmbeddingUpstreamFailure Code = "embedding.upstream.failure"
	CodeEmbeddingResponseInvalid Code = "embedding.response.invalid"
	CodeEmbeddingTimeout         Code = "embedding.call.timeout"

	CodeStoreVectorWriteFailure  Code = "store.vector.write.failure"
	CodeStoreVectorSearchFailure Code = "store.vector.search.failure"
	CodeStoreVectorInvalidInput  Code = "store.vector.invalid_input"
	CodeStoreDatabaseFailure     Code = "store.database.failure"
	CodeStoreBackendUnsupported  Code = "store.backend.unsupported"
	CodeStoreTimeout             Code = "store.call.timeout"

	CodeRetrievalConceptsInvalid Code = "retrieval.concepts.invalid_format"

	CodeIngestTextInvalid       Code = "ingest.text.invalid_input"
	CodeIngestTextTooLarge      Code = "ingest.text.too_large"
	CodeIngestEmbedFailure      Code = "ingest.embed.upstream.failure"
	CodeIngestStoreFailure      Code = "ingest.store.failure"
	CodeIngestSegmentFailure    Code = "ingest.segment.failure"
	CodeIngestExtractInvalid    Code = "ingest.extract.invalid_input"
	CodeIngestExtractFailure    Code = "ingest.extract.failure"
	CodeIngestExtractTimeout    Code = "ingest.extract.timeout"
	CodeIngestExtractorDisabled Code = "ingest.extract.not_implemented"

	CodeScannerRuleInvalid      Code = "scanner.rule.invalid"
	CodeScannerStageInvalid     Code = "scanner.stage.invalid"
	CodeScannerRulesFileInvalid Code = "scanner.rules.invalid_format"
	CodeScannerContentBlocked   Code = "scanner.content.invalid_input"

	CodeConfigLoadReadFailure      Code = "config.load.read.failure"
	CodeConfigParseInvalidFormat   Code = "config.parse.invalid_format"
	CodeConfigValidateInvalidValue Code = "config.validate.invalid_value"

	CodeProviderRequestInvalid  Code = "provider.request.invalid"
	CodeProviderUpstreamFailure Code = "provider.upstream.failure"
	CodeProviderNotFound        Code = "provider.registry.not_found"
	CodeProviderAllUnavailable  Code = "provider.routing.all_unavailable"
	CodeProviderNoDefault       Code = "provider.routing.no_default"
	CodeProviderInvalidModelRef Code = "provider.routing.invalid_model_ref"
	CodeProviderKeyInvalid      Code = "provider.key.invalid"
	CodeProviderKeyCheckFailed  Code = "provider.key.check.failure"

	CodeAgentLoopInvalidInput Code = "agent.loop.invalid_input"
	CodeAgentLoopFailure      Code = "agent.loop.failure"
	CodeAgentStepTimeout      Code = "agent.step.timeout"

	CodeServerRequestTooLarge Code = "server.request.too_large"
	CodeServerInternalFailure Code = "server.internal.failure"
	CodeServerConfigInvalid   Code = "server.config.invalid"
	CodeServerStartFailure    Code = "server.start.failure"
	CodeServerShutdownFailure Code = "server.shutdown.failure"

	CodeCLIGatewayNotRunning Code = "cli.gateway.not_running"
	CodeCLIRequestFailure    Code = "cli.request.failure"
	CodeCLIResponseInvalid   Code = "cli.response.invalid"
	CodeCLISetupFailure      Code = "cli.setup.failure"
	CodeCLIInputInvalid      Code = "cli.input.invalid"

	CodeSecretInvalidInput   Code = "secret.input.invalid"
	CodeSecretNotFound       Code = "secret.get.not_found"
	CodeSecretStoreFailure   Code = "secret.store.failure"
	CodeSecretDeleteFailure  Code = "secret.delete.failure"
	CodeSecretListFailure    Code = "secret.list.failure"
	CodeSecretResolveFailure Code = "secret.resolve.failure"
)

// Attr is a structured key/value context attached to an error.
type Attr struct {
	Key   string
	Value any
}

// FieldValue creates a structured error field.
func FieldValue(key string, value any) Attr {
	return Attr{Key: key, Value: value}
}

// Field is kept as the primary helper for terse callsites.
func Field(key string, value any) Attr {
	return FieldValue(key, value)
}

func FieldSource(value string) Attr {
	return Field("source", value)
}

func FieldSegment(index int) Attr {
	return Field("segment_index", index)
}

func FieldProvider(value string) Attr {
	return Field("provider", value)
}

func FieldStage(value string) Attr {
	return Field("stage", value)
}

// coded records the code chosen at one construction or wrap site. oops
// reports the deepest code in a chain; CodeOf reports the outermost one, so
// a boundary that wraps an error decides how it is classified.
type coded struct {
	code Code
	err  error
}

func (c *coded) Error() string { return c.err.Error() }
func (c *coded) Unwrap() error { return c.err }

func withCode(code Code, err error) error {
	if err == nil {
		return nil
	}
	return &coded{code: code, err: err}
}

func New(code Code, msg string, fields ...Attr) error {
	return withCode(code, oops.Code(code).With(flatten(fields)...).New(msg))
}

func Errorf(code Code, format string, args ...any) error {
	return withCode(code, oops.Code(code).Errorf(format, args...))
}

func Wrap(err error, code Code, msg string, fields ...Attr) error {
	if err == nil {
		return nil
	}

	return withCode(code, oops.Code(code).With(flatten(fields)...).Wrapf(err, "%s", msg))
}

func Wrapf(err error, code Code, format string, args ...any) error {
	if err == nil {
		return nil
	}

	return withCode(code, oops.Code(code).Wrapf(err, format, args...))
}

// With adds structured fields to an existing error chain, keeping its code.
func With(err error, fields ...Attr) error {
	if err == nil {
		return nil
	}

	code := CodeOf(err)
	if code == "" {
		code = CodeServerInternalFailure
	}

	return withCode(code, oops.Code(code).With(flatten(fields)...).Wrap(err))
}

// CodeOf returns the code of the outermost coded error in the chain.
func CodeOf(err error) Code {
	if err == nil {
		return ""
	}

	var c *coded
	if stderrors.As(err, &c) {
		return c.code
	}

	oopsErr, ok := oops.AsOops(err)
	if !ok {
		return ""
	}

	if code, ok := oopsErr.Code().(Code); ok {
		return code
	}

	if code, ok := oopsErr.Code().(string); ok {
		return Code(code)
	}

	return Code(fmt.Sprintf("%v", oopsErr.Code()))
}

func FieldsOf(err error) map[string]any {
	if err == nil {
		return nil
	}

	oopsErr, ok := oops.AsOops(err)
	if !ok {
		return nil
	}

	return oopsErr.Context()
}

func HasCode(err error, code Code) bool {
	if err == nil {
		return false
	}
	return CodeOf(err) == code
}

func IsNotFound(err error) bool {
	return reason(CodeOf(err)) == "not_found"
}

func IsInvalidInput(err error) bool {
	r := reason(CodeOf(err))
	return r == "invalid" || r == "invalid_input" || r == "invalid_value" || r == "invalid_format"
}

func IsTooLarge(err error) bool {
	return reason(CodeOf(err)) == "too_large"
}

func IsTimeout(err error) bool {
	return reason(CodeOf(err)) == "timeout"
}

func IsUpstreamFailure(err error) bool {
	code := CodeOf(err)
	return strings.Contains(string(code), ".upstream.") && reason(code) == "failure"
}

func HTTPStatus(err error) int {
	switch {
	case reason(CodeOf(err)) == "not_implemented":
		return http.StatusNotImplemented
	case IsNotFound(err):
		return http.StatusNotFound
	case IsInvalidInput(err):
		return http.StatusBadRequest
	case IsTooLarge(err):
		return http.StatusRequestEntityTooLarge
	case IsTimeout(err):
		return http.StatusGatewayTimeout
	case IsUpstreamFailure(err):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func Join(errs ...error) error {
	joined := stderrors.Join(errs...)
	if joined == nil {
		return nil
	}
	return withCode(CodeServerInternalFailure, oops.Code(CodeServerInternalFailure).Wrap(joined))
}

func flatten(fields []Attr) []any {
	pairs := make([]any, 0, len(fields)*2)
	for _, field := range fields {
		if field.Key == "" {
			continue
		}
		pairs = append(pairs, field.Key, field.Value)
	}
	return pairs
}

func reason(code Code) string {
	if code == "" {
		return ""
	}

	raw := string(code)
	idx := strings.LastIndex(raw, ".")
	if idx == -1 || idx == len(raw)-1 {
		return raw
	}
	return raw[idx+1:]
}
