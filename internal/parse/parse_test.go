package parse

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ShayCichocki/taskweave/internal/collab"
	"github.com/ShayCichocki/taskweave/pkg/models"
)

func ids(tasks []*models.Task) []string {
	out := make([]string, len(tasks))
	for i, t := range tasks {
		out[i] = t.ID
	}
	return out
}

func TestParseStepPlan(t *testing.T) {
	res := Parse("Step 1: Init\nCreate repo.\nStep 2: Deps\nInstall deps.")

	require.Equal(t, ShapeSteps, res.Shape)
	require.Len(t, res.Tasks, 2)
	assert.Empty(t, res.Warnings)

	first, second := res.Tasks[0], res.Tasks[1]
	assert.Equal(t, "step-1", first.ID)
	assert.Equal(t, "Init", first.Title)
	assert.Equal(t, "Create repo.", first.Description)
	assert.Empty(t, first.Dependencies)
	assert.True(t, first.HasTag("deployment"))
	assert.Equal(t, models.TaskStatusPending, first.Status)

	assert.Equal(t, "step-2", second.ID)
	assert.Equal(t, "Deps", second.Title)
	assert.Equal(t, "Install deps.", second.Description)
	assert.Empty(t, second.Dependencies)
}

func TestParseStepPlanMarkdownHeaders(t *testing.T) {
	text := `## Step 1 - Provision
Create the VPC.
Open port 443.

## Step 2. Deploy
Roll out the service.
Depends on: step-1.`

	res := Parse(text)
	require.Len(t, res.Tasks, 2)
	assert.Equal(t, "Provision", res.Tasks[0].Title)
	assert.Equal(t, "Create the VPC.\nOpen port 443.", res.Tasks[0].Description)
	assert.Equal(t, []string{"step-1"}, res.Tasks[1].Dependencies)
	assert.Equal(t, "Roll out the service.", res.Tasks[1].Description)
}

func TestParseStepWithoutBodyIsSkipped(t *testing.T) {
	res := Parse("Step 1: Init\n\nStep 2: Deps\nInstall deps.")

	require.Len(t, res.Tasks, 1)
	assert.Equal(t, "step-1", res.Tasks[0].ID)
	assert.Equal(t, "Deps", res.Tasks[0].Title)

	require.Len(t, res.Warnings, 1)
	assert.Equal(t, WarnMalformedStep, res.Warnings[0].Kind)
}

const requirementsDoc = `# Inventory service

Some intro prose that is not a task.

## Requirements
- Set up the database schema
- Build the REST API (depends on: task-1)
- Add a dashboard page [deps: Biuld the REST API]
  Show charts for usage.
- Write docs, after #2
- Wire alerts (depends on: Set up, Deploy to Mars)

## Notes
- not a task
`

func TestParseRequirementsDocument(t *testing.T) {
	res := Parse(requirementsDoc)

	require.Equal(t, ShapeRequirements, res.Shape)
	require.Equal(t, []string{"task-1", "task-2", "task-3", "task-4", "task-5"}, ids(res.Tasks))

	api := res.Tasks[1]
	assert.Equal(t, "Build the REST API", api.Title)
	assert.Equal(t, []string{"task-1"}, api.Dependencies)

	dash := res.Tasks[2]
	assert.Equal(t, "Add a dashboard page", dash.Title)
	assert.Equal(t, "Add a dashboard page\nShow charts for usage.", dash.Description)
	assert.Equal(t, []string{"task-2"}, dash.Dependencies, "near title match")

	docs := res.Tasks[3]
	assert.Equal(t, "Write docs", docs.Title)
	assert.Equal(t, []string{"task-2"}, docs.Dependencies, "ordinal reference")

	alerts := res.Tasks[4]
	assert.Equal(t, []string{"task-1"}, alerts.Dependencies, "unique prefix match")

	require.Len(t, res.Warnings, 1)
	w := res.Warnings[0]
	assert.Equal(t, WarnUnresolvedDependency, w.Kind)
	assert.Equal(t, "task-5", w.TaskID)
	assert.Equal(t, "Deploy to Mars", w.Ref)
}

func TestParseRequirementsNumberedItems(t *testing.T) {
	text := "Tasks:\n1. Create models\n2) Add handlers (after: Create models)\n"

	res := Parse(text)
	require.Len(t, res.Tasks, 2)
	assert.Equal(t, "Add handlers", res.Tasks[1].Title)
	assert.Equal(t, []string{"task-1"}, res.Tasks[1].Dependencies)
}

func TestParseTopLevelBulletsWithoutHeading(t *testing.T) {
	res := Parse("Things to do:\n- Write parser\n  - handle steps\n- Write planner\n")

	require.Len(t, res.Tasks, 2)
	assert.Equal(t, "Write parser", res.Tasks[0].Title)
	assert.Equal(t, "Write parser\nhandle steps", res.Tasks[0].Description)
	assert.Equal(t, "Write planner", res.Tasks[1].Title)
}

func TestParseSelfReferenceIsDropped(t *testing.T) {
	res := Parse("## Tasks\n- Loop (depends on: task-1)\n")

	require.Len(t, res.Tasks, 1)
	assert.Empty(t, res.Tasks[0].Dependencies)
	require.Len(t, res.Warnings, 1)
	assert.Equal(t, WarnUnresolvedDependency, res.Warnings[0].Kind)
}

func TestParseItemStartingWithRequiresIsKept(t *testing.T) {
	res := Parse("## Requirements\n- Requires OAuth login for all users.\n- Build the REST API\n")

	require.Equal(t, []string{"task-1", "task-2"}, ids(res.Tasks))
	assert.Empty(t, res.Warnings)

	auth := res.Tasks[0]
	assert.Equal(t, "Requires OAuth login for all users.", auth.Title)
	assert.Equal(t, "Requires OAuth login for all users.", auth.Description)
	assert.Empty(t, auth.Dependencies)
	assert.Equal(t, "Build the REST API", res.Tasks[1].Title)
}

func TestParseProseIsNotTreatedAsDependency(t *testing.T) {
	text := "Step 1: Init\nCreate repo.\nStep 2: Migrate\nAfter the database is up, run migrations.\nRequires Go 1.22 on the host."

	res := Parse(text)
	require.Len(t, res.Tasks, 2)
	assert.Empty(t, res.Warnings)

	migrate := res.Tasks[1]
	assert.Equal(t, "After the database is up, run migrations.\nRequires Go 1.22 on the host.", migrate.Description)
	assert.Empty(t, migrate.Dependencies)
}

func TestParseInlineTitleReference(t *testing.T) {
	res := Parse("Step 1: Init\nCreate repo.\nStep 2: Deploy\nPush image.\nRequires Init.")

	require.Len(t, res.Tasks, 2)
	assert.Empty(t, res.Warnings)

	deploy := res.Tasks[1]
	assert.Equal(t, []string{"step-1"}, deploy.Dependencies)
	assert.Equal(t, "Push image.", deploy.Description)
	assert.Equal(t, "Deploy", deploy.Title)
}

func TestParseAnnotationOnlyItemIsKept(t *testing.T) {
	res := Parse("## Tasks\n- Set up repo\n- (depends on: task-1)\n")

	require.Equal(t, []string{"task-1", "task-2"}, ids(res.Tasks))
	second := res.Tasks[1]
	assert.Equal(t, "Task 2", second.Title)
	assert.Equal(t, "(depends on: task-1)", second.Description)
	assert.Equal(t, []string{"task-1"}, second.Dependencies)
}

func TestParseEmptyInput(t *testing.T) {
	for _, in := range []string{"", "   \n\t\n", "just some prose with no structure"} {
		res := Parse(in)
		assert.Empty(t, res.Tasks, "input %q", in)
		assert.Equal(t, ShapeEmpty, res.Shape)
	}
}

func TestParseIsDeterministic(t *testing.T) {
	a := Parse(requirementsDoc)
	b := Parse(requirementsDoc)
	assert.Equal(t, a.Tasks, b.Tasks)
	assert.Equal(t, a.Warnings, b.Warnings)
}

func TestParseJSONTaskList(t *testing.T) {
	text := `[
		{"id": "a", "title": "Alpha", "tags": ["Foundation"]},
		{"id": "b", "title": "Beta", "priority": 5, "depends_on": ["Alpha"]},
		{"title": "Gamma", "dependencies": ["b", "nope"]}
	]`

	res := Parse(text)
	require.Equal(t, ShapeJSON, res.Shape)
	require.Equal(t, []string{"a", "b", "task-3"}, ids(res.Tasks))

	assert.Equal(t, []string{"foundation"}, res.Tasks[0].Tags)
	assert.Equal(t, 5, res.Tasks[1].Priority)
	assert.Equal(t, []string{"a"}, res.Tasks[1].Dependencies)
	assert.Equal(t, []string{"b"}, res.Tasks[2].Dependencies)
	require.Len(t, res.Warnings, 1)
	assert.Equal(t, "nope", res.Warnings[0].Ref)
}

func TestParseMalformedJSONFallsBack(t *testing.T) {
	res := Parse("[deps: x] not json\n- First item\n")
	assert.Equal(t, ShapeRequirements, res.Shape)
	require.Len(t, res.Tasks, 1)
	assert.Equal(t, WarnMalformedJSON, res.Warnings[0].Kind)
}

func TestInferDependencies(t *testing.T) {
	text := "## Requirements\n- Design the API interface\n- Implement user signup feature\n- Build signup page UI\n"

	plain := Parse(text)
	for _, task := range plain.Tasks {
		assert.Empty(t, task.Dependencies)
	}

	res := ParseWithOptions(text, Options{InferDependencies: true})
	require.Len(t, res.Tasks, 3)
	assert.Empty(t, res.Tasks[0].Dependencies)
	assert.Equal(t, []string{"task-1"}, res.Tasks[1].Dependencies)
	assert.Equal(t, []string{"task-1", "task-2"}, res.Tasks[2].Dependencies)
}

func TestHeuristics(t *testing.T) {
	assert.Equal(t, PriorityCritical, priorityOf("This is critical for launch"))
	assert.Equal(t, PriorityCritical, priorityOf("The system MUST log in users"))
	assert.Equal(t, PriorityHigh, priorityOf("Important: cache results"))
	assert.Equal(t, PriorityLow, priorityOf("Optional dark mode"))
	assert.Equal(t, PriorityNormal, priorityOf("Add search"))

	assert.Equal(t, 1, effortOf("short"))
	assert.Equal(t, 2, effortOf(repeatWords(30)))
	assert.Equal(t, 3, effortOf(repeatWords(60)))
	assert.Equal(t, 4, effortOf(repeatWords(150)))
	assert.Equal(t, 5, effortOf(repeatWords(250)))

	assert.Equal(t, []string{"foundation", "interface"}, tagsOf("Initialize the API module"))
	assert.Equal(t, []string{"ui", "testing"}, tagsOf("Test the login form"))
}

func repeatWords(n int) string {
	b := make([]byte, 0, n*2)
	for i := 0; i < n; i++ {
		b = append(b, 'w', ' ')
	}
	return string(b)
}

func TestSimilarity(t *testing.T) {
	assert.InDelta(t, 1.0, similarity("abc", "abc"), 1e-9)
	assert.InDelta(t, 0.0, similarity("abc", "xyz"), 1e-9)
	assert.GreaterOrEqual(t, similarity("biuld the rest api", "build the rest api"), nearMatchThreshold)
	assert.Equal(t, 3, levenshtein([]rune("kitten"), []rune("sitting")))
}

func TestDecomposer(t *testing.T) {
	var prompt string
	c := collab.Func(func(_ context.Context, req collab.Request) (collab.Response, error) {
		prompt = req.Description
		return collab.Response{Output: "Here you go:\n" +
			`[{"title":"Schema"},{"title":"API","depends_on":["Schema"]}]` + "\nDone."}, nil
	})

	res, err := NewDecomposer(c, Options{}).Decompose(context.Background(), "build an inventory service")
	require.NoError(t, err)
	assert.Contains(t, prompt, "build an inventory service")
	require.Equal(t, []string{"task-1", "task-2"}, ids(res.Tasks))
	assert.Equal(t, []string{"task-1"}, res.Tasks[1].Dependencies)
}

func TestDecomposerFallsBackToParse(t *testing.T) {
	c := collab.Func(func(context.Context, collab.Request) (collab.Response, error) {
		return collab.Response{Output: "I cannot help with that."}, nil
	})

	res, err := NewDecomposer(c, Options{}).Decompose(context.Background(), "Step 1: Init\nCreate repo.")
	require.NoError(t, err)
	assert.Equal(t, ShapeSteps, res.Shape)
	assert.Len(t, res.Tasks, 1)
}

func TestDecomposerPropagatesErrors(t *testing.T) {
	boom := errors.New("boom")
	c := collab.Func(func(context.Context, collab.Request) (collab.Response, error) {
		return collab.Response{}, boom
	})

	_, err := NewDecomposer(c, Options{}).Decompose(context.Background(), "x")
	assert.ErrorIs(t, err, boom)
}
