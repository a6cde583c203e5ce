package graph_test

import (
	"testing"

	"github.com/dukex/flowbase/pkg/graph"
	"github.com/dukex/flowbase/pkg/models"
	"github.com/dukex/flowbase/pkg/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func branchedWorkflow() *models.Workflow {
	wf := testutil.Chain(testutil.CreateTestWorkflow(),
		testutil.CreateTestStep("check", testutil.WithAction(models.ActionTypeCondition, map[string]any{"expression": "age >= 18"})),
	)

	wf.Steps = append(wf.Steps,
		testutil.CreateTestStep("adult", testutil.WithAction("noop", nil)),
		testutil.CreateTestStep("minor", testutil.WithAction("noop", nil)),
	)
	wf.Connections = append(wf.Connections,
		testutil.CreateTestBranch("check", "adult", models.BranchTrue),
		testutil.CreateTestBranch("check", "minor", models.BranchFalse),
	)

	return wf
}

func TestValidator_AcceptsConditionBranches(t *testing.T) {
	t.Parallel()

	require.NoError(t, graph.NewValidator(newCatalog()).Validate(branchedWorkflow()))
}

func TestValidator_RejectsBranchFromPlainAction(t *testing.T) {
	t.Parallel()

	wf := branchedWorkflow()
	wf.Connections = append(wf.Connections, testutil.CreateTestBranch("adult", "minor", models.BranchTrue))

	err := graph.NewValidator(newCatalog()).Validate(wf)

	var validationErr *graph.ValidationError
	require.ErrorAs(t, err, &validationErr)
	assert.True(t, validationErr.Has(graph.CodeInvalidBranch))
}

func TestGraph_BranchSuccessors(t *testing.T) {
	t.Parallel()

	g := graph.Build(branchedWorkflow())

	assert.ElementsMatch(t, []graph.Edge{
		{From: "check", To: "adult", Branch: models.BranchTrue},
		{From: "check", To: "minor", Branch: models.BranchFalse},
	}, g.Successors("check"))
	assert.Equal(t, []string{"trigger"}, g.TriggerSteps())
}
