package planner

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMaterializeResolvesIndexDependenciesToIDs(t *testing.T) {
	ids := []string{"id-0", "id-1", "id-2"}
	i := 0
	newID := func() string {
		id := ids[i]
		i++
		return id
	}

	plan := Plan{
		Title: "demo",
		Tasks: []TaskSpec{
			{Prompt: "fetch", AgentType: "data_retrieval"},
			{Prompt: "process", AgentType: "code_execution", Dependencies: []int{0}},
			{Prompt: "report", AgentType: "report", Dependencies: []int{0, 1}},
		},
	}

	tasks, err := Materialize("action-1", plan, newID)
	require.NoError(t, err)
	require.Len(t, tasks, 3)

	assert.Equal(t, "id-0", tasks[0].ID)
	assert.Empty(t, tasks[0].Dependencies)
	assert.Equal(t, []string{"id-0"}, tasks[1].Dependencies)
	assert.Equal(t, []string{"id-0", "id-1"}, tasks[2].Dependencies)
	for _, task := range tasks {
		assert.Equal(t, "action-1", task.ActionID)
	}
}

func TestMaterializeRejectsOutOfRangeDependencyIndex(t *testing.T) {
	plan := Plan{Tasks: []TaskSpec{
		{Prompt: "only task", Dependencies: []int{5}},
	}}
	_, err := Materialize("action-1", plan, func() string { return "id" })
	assert.Error(t, err)
}
