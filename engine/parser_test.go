package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/unix1010/pants/types"
)

type jdk struct{ Version string }
type banner struct{ Text string }

var demoRuleset = `{
  "name": "demo",
  "rules": [
    {
      "product": "banner",
      "selectors": [
        {"kind": "select", "product": "jdk"}
      ],
      "script": {
        "type": "expr",
        "source": "\"jdk \" + arg0.Version"
      }
    }
  ],
  "singletons": [
    {"product": "jdk", "value": {"Version": "17"}}
  ]
}`

func TestDecodeRuleSet(t *testing.T) {
	parser := &JsonParser{}
	def, err := parser.DecodeRuleSet([]byte(demoRuleset))
	require.NoError(t, err)

	assert.Equal(t, "demo", def.Name)
	require.Len(t, def.Rules, 1)
	assert.Equal(t, "banner", def.Rules[0].Product)
	require.Len(t, def.Rules[0].Selectors, 1)
	assert.Equal(t, types.KindSelect, def.Rules[0].Selectors[0].Kind)
	require.Len(t, def.Singletons, 1)

	encoded, err := parser.EncodeRuleSet(def)
	require.NoError(t, err)
	assert.Contains(t, string(encoded), `"banner"`)
}

func TestRegisterRuleSetUnknownType(t *testing.T) {
	parser := &JsonParser{}
	def, err := parser.DecodeRuleSet([]byte(demoRuleset))
	require.NoError(t, err)

	tasks := NewTasks()
	err = RegisterRuleSet(tasks, types.NewConfig(types.WithLogger(types.NopLogger())), def)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not registered")
}

// A scripted expr rule runs end to end: the singleton resolves the selector
// and the compiled expression produces the product.
func TestScriptedExprRule(t *testing.T) {
	parser := &JsonParser{}
	def, err := parser.DecodeRuleSet([]byte(demoRuleset))
	require.NoError(t, err)

	config := quietConfig(types.WithTypes(jdk{}, banner{}))
	tasks := NewTasks()
	tasks.AddRootSubjectType(testRoot{})
	require.NoError(t, RegisterRuleSet(tasks, config, def))

	s, err := NewScheduler(tasks, config)
	require.NoError(t, err)

	require.NoError(t, s.ExecutionAddRootSelect(testRoot{Id: 0}, constraint(banner{})))
	_, err = s.ExecutionExecute()
	require.NoError(t, err)

	roots := requireRoots(t, s, 1)
	require.Equal(t, types.StateTagReturn, roots[0].StateTag)
	assert.Equal(t, "jdk 17", roots[0].StateValue.Inner)
}

// A scripted goja rule receives its selector results as arguments.
func TestScriptedJsRule(t *testing.T) {
	ruleset := `{
	  "name": "jsdemo",
	  "rules": [
	    {
	      "product": "banner",
	      "selectors": [
	        {"kind": "select", "product": "jdk"}
	      ],
	      "script": {
	        "type": "js",
	        "source": "function render(jdk) { return 'js jdk ' + jdk.Version; }",
	        "function": "render"
	      }
	    }
	  ],
	  "singletons": [
	    {"product": "jdk", "value": {"Version": "21"}}
	  ]
	}`

	parser := &JsonParser{}
	def, err := parser.DecodeRuleSet([]byte(ruleset))
	require.NoError(t, err)

	config := quietConfig(types.WithTypes(jdk{}, banner{}))
	tasks := NewTasks()
	tasks.AddRootSubjectType(testRoot{})
	require.NoError(t, RegisterRuleSet(tasks, config, def))

	s, err := NewScheduler(tasks, config)
	require.NoError(t, err)

	require.NoError(t, s.ExecutionAddRootSelect(testRoot{Id: 0}, constraint(banner{})))
	_, err = s.ExecutionExecute()
	require.NoError(t, err)

	roots := requireRoots(t, s, 1)
	require.Equal(t, types.StateTagReturn, roots[0].StateTag)
	assert.Equal(t, "js jdk 21", roots[0].StateValue.Inner)
}
