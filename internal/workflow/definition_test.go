package workflow_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fieldservice/internal/workflow"
)

func defaults(t *testing.T, entity string) *workflow.Definition {
	t.Helper()
	d, err := workflow.MustDefaults().Get(entity)
	require.NoError(t, err)
	return d
}

func TestStepsFormTotalOrder(t *testing.T) {
	reg := workflow.MustDefaults()
	for _, entity := range reg.Entities() {
		d, err := reg.Get(entity)
		require.NoError(t, err)

		for i, s := range d.Steps {
			p := d.Locate(string(s))
			assert.True(t, p.Known, "%s/%s", entity, s)
			assert.Equal(t, i, p.Index, "%s/%s", entity, s)
			if p.Terminal {
				assert.Empty(t, p.Next)
				continue
			}
			if i+1 < len(d.Steps) {
				assert.Equal(t, d.Steps[i+1], p.Next)
			} else {
				assert.Empty(t, p.Next)
			}
		}
	}
}

func TestTerminalStatusesOfferNothing(t *testing.T) {
	reg := workflow.MustDefaults()
	for _, entity := range reg.Entities() {
		d, err := reg.Get(entity)
		require.NoError(t, err)
		for _, s := range d.Terminal {
			p := d.Locate(string(s))
			assert.True(t, p.Terminal)
			assert.Empty(t, p.Next, "%s/%s", entity, s)
			assert.Empty(t, p.Branches)
			assert.Empty(t, d.Eligible(string(s)))
		}
	}
}

func TestLocate_UnknownFallsBackToFirstStep(t *testing.T) {
	d := defaults(t, workflow.EntityDispatch)

	p := d.Locate("teleported")
	assert.False(t, p.Known)
	assert.Equal(t, 0, p.Index)
	assert.Equal(t, workflow.Status("pending"), p.Status)
	assert.Equal(t, workflow.Status("assigned"), p.Next)

	p = d.Locate("")
	assert.False(t, p.Known)
	assert.Equal(t, 0, p.Index)
}

func TestNormalize_Aliases(t *testing.T) {
	d := defaults(t, workflow.EntityDispatch)

	cases := map[string]workflow.Status{
		"InProgress":  "in_progress",
		"in-progress": "in_progress",
		" On Site ":   "on_site",
		"open":        "pending",
		"Canceled":    "cancelled",
		"DONE":        "completed",
		"paused":      "on_hold",
	}
	for raw, want := range cases {
		got, ok := d.Normalize(raw)
		assert.True(t, ok, raw)
		assert.Equal(t, want, got, raw)
	}

	_, ok := d.Normalize("unheard_of")
	assert.False(t, ok)
}

func TestBranches(t *testing.T) {
	d := defaults(t, workflow.EntitySale)

	assert.Equal(t,
		[]workflow.Status{"invoiced", "partially_invoiced", "cancelled"},
		d.Eligible("completed"),
	)

	p := d.Locate("partially_invoiced")
	assert.True(t, p.Known)
	assert.False(t, p.Terminal)
	assert.Equal(t, 4, p.Index)
	assert.Equal(t, workflow.Status("invoiced"), p.Next)

	assert.True(t, d.CanTransition("sent", "lost"))
	assert.Empty(t, d.Eligible("lost"))
}

func TestBranchBackIntoStepsMustReturn(t *testing.T) {
	d := defaults(t, workflow.EntityDispatch)

	p := d.Locate("on_hold")
	assert.Equal(t, 5, p.Index)
	assert.False(t, p.Terminal)
	assert.Empty(t, p.Next)
	assert.Equal(t, []workflow.Status{"in_progress"}, p.Branches)
	assert.Equal(t, []workflow.Status{"in_progress", "cancelled"}, d.Eligible("on_hold"))
	assert.True(t, d.CanTransition("on_hold", "in_progress"))
	assert.False(t, d.CanTransition("on_hold", "technically_completed"))
	assert.True(t, d.CanTransition("in_progress", "on_hold"))
}

func TestLocate_EmptyDefinition(t *testing.T) {
	var d workflow.Definition

	assert.NotPanics(t, func() {
		p := d.Locate("anything")
		assert.False(t, p.Known)
		assert.Empty(t, p.Status)
		assert.Empty(t, d.Eligible("anything"))
		assert.False(t, d.CanTransition("a", "b"))
	})
}

func TestCanTransition(t *testing.T) {
	d := defaults(t, workflow.EntityDispatch)

	assert.True(t, d.CanTransition("pending", "assigned"))
	assert.True(t, d.CanTransition("pending", "cancelled"))
	assert.True(t, d.CanTransition("Pending", "Canceled"))
	assert.False(t, d.CanTransition("pending", "on_site"))
	assert.False(t, d.CanTransition("assigned", "pending"))
	assert.False(t, d.CanTransition("completed", "cancelled"))
	assert.False(t, d.CanTransition("pending", "nonsense"))
}

func TestTransition(t *testing.T) {
	d := defaults(t, workflow.EntitySale)

	from, to, err := d.Transition("won", "in-progress")
	require.NoError(t, err)
	assert.Equal(t, workflow.Status("accepted"), from)
	assert.Equal(t, workflow.Status("in_progress"), to)

	_, _, err = d.Transition("draft", "invoiced")
	assert.ErrorIs(t, err, workflow.ErrInvalidTransition)
}

func TestView(t *testing.T) {
	d := defaults(t, workflow.EntitySale)
	v := d.View("sent")
	assert.Equal(t, "sale", v.Entity)
	assert.Equal(t, 1, v.Index)
	assert.Equal(t, d.Steps, v.Steps)
	assert.Equal(t, []workflow.Status{"accepted", "lost", "cancelled"}, v.Eligible)
}

func TestValidate(t *testing.T) {
	base := func() workflow.Definition {
		return workflow.Definition{
			Entity:   "job",
			Steps:    []workflow.Status{"open", "done"},
			Terminal: []workflow.Status{"done", "void"},
			Cancel:   "void",
		}
	}

	d := base()
	require.NoError(t, d.Validate())

	d = base()
	d.Steps = append(d.Steps, "open")
	assert.Error(t, d.Validate())

	d = base()
	d.Terminal = []workflow.Status{"done"}
	assert.Error(t, d.Validate(), "cancel must be terminal")

	d = base()
	d.Branches = map[workflow.Status][]workflow.Status{"ghost": {"open"}}
	assert.Error(t, d.Validate())

	d = base()
	d.Aliases = map[string]workflow.Status{"closed": "archived"}
	assert.Error(t, d.Validate())

	d = base()
	d.Steps = nil
	assert.Error(t, d.Validate())

	d = base()
	d.Aliases = map[string]workflow.Status{"Open": "done"}
	assert.Error(t, d.Validate(), "alias shadows a member")

	d = base()
	d.Aliases = map[string]workflow.Status{"finished": "done"}
	require.NoError(t, d.Validate())
}

func TestLoadRegistry_FromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "workflows.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
workflows:
  - entity: ticket
    steps: [open, closed]
    terminal: [closed]
`), 0o600))

	reg, err := workflow.LoadRegistry(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"ticket"}, reg.Entities())

	_, err = reg.Get("sale")
	assert.ErrorIs(t, err, workflow.ErrUnknownEntity)
}

func TestParseRegistry_Errors(t *testing.T) {
	_, err := workflow.ParseRegistry([]byte("workflows: []"))
	assert.Error(t, err)

	_, err = workflow.ParseRegistry([]byte(`
workflows:
  - {entity: a, steps: [x], terminal: [x]}
  - {entity: a, steps: [y], terminal: [y]}
`))
	assert.Error(t, err)

	_, err = workflow.ParseRegistry([]byte(":::"))
	assert.Error(t, err)
}
