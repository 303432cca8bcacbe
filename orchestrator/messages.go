// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.

package orchestrator

import (
	"bytes"
	"fmt"
	"text/template"

	"github.com/Masterminds/sprig/v3"
	"github.com/microsoft/mergebot/domain"
)

// failureTemplate renders the single user-visible comment posted when a
// merge request reaches the Failed state, grounded on
// internal/pipelineymlgen/expr.go's text/template+sprig setup.
var failureTemplate = template.Must(template.New("failure").Funcs(sprig.HermeticTxtFuncMap()).Parse(
	`Automated merge failed for {{ .MR.HtmlUrl }} (correlation id ` + "`{{ .MR.CorrelationID }}`" + `):

> {{ .Reason }}

{{ if .MR.Dependencies }}This pull request had {{ len .MR.Dependencies | toString }} companion dependency(ies) that were not processed as a result.
{{ end }}`))

// companionFailureTemplate renders the consolidated comment posted on the
// root PR when one or more companion pushes fail after the root itself
// merged successfully.
var companionFailureTemplate = template.Must(template.New("companionFailure").Funcs(sprig.HermeticTxtFuncMap()).Parse(
	`{{ .MR.HtmlUrl }} merged, but {{ len .Failures }} companion update(s) failed and need manual attention:
{{ range .Failures }}
- {{ . }}
{{- end }}`))

func renderFailureComment(mr domain.MergeRequest, reason string) string {
	var buf bytes.Buffer
	if err := failureTemplate.Execute(&buf, struct {
		MR     domain.MergeRequest
		Reason string
	}{mr, reason}); err != nil {
		// The template is a compile-time constant; this can only happen if
		// a field was renamed without updating the template.
		return fmt.Sprintf("merge failed: %s", reason)
	}
	return buf.String()
}

func renderCompanionFailureComment(mr domain.MergeRequest, failures []error) string {
	strs := make([]string, len(failures))
	for i, e := range failures {
		strs[i] = e.Error()
	}
	var buf bytes.Buffer
	if err := companionFailureTemplate.Execute(&buf, struct {
		MR       domain.MergeRequest
		Failures []string
	}{mr, strs}); err != nil {
		return fmt.Sprintf("%d companion update(s) failed: %v", len(strs), strs)
	}
	return buf.String()
}
