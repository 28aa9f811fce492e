package main

import (
	"context"
	"fmt"
	"log"

	"github.com/unix1010/pants/builtin/aspect"
	"github.com/unix1010/pants/engine"
	"github.com/unix1010/pants/types"
)

// Address names a buildable target.
type Address struct {
	Spec string
}

// JdkVersion is provided by a singleton.
type JdkVersion struct {
	Version string
}

// Classpath is computed by a task rule from the JdkVersion.
type Classpath struct {
	Entries []string
}

// Banner is produced by a scripted rule declared in the JSON ruleset below.
type Banner struct {
	Text string
}

var rulesetFile = `{
  "name": "demo",
  "rules": [
    {
      "product": "Banner",
      "selectors": [
        {"kind": "select", "product": "JdkVersion"}
      ],
      "script": {
        "type": "expr",
        "source": "{\"Text\": \"building with jdk \" + arg0.Version}"
      }
    }
  ]
}`

func classpathForJdk(ctx context.Context, args []any) (any, error) {
	jdk := args[0].(JdkVersion)
	return Classpath{Entries: []string{"lib/rt-" + jdk.Version + ".jar"}}, nil
}

func main() {
	tasks := engine.NewTasks()
	tasks.AddRootSubjectType(Address{})

	tasks.SingletonAdd(JdkVersion{Version: "17"}, types.ConstraintForType(JdkVersion{}))

	tasks.TaskBegin(types.RunnableFunc{FuncName: "classpath_for_jdk", Fn: classpathForJdk},
		types.ConstraintForType(Classpath{}))
	tasks.AddSelect(types.ConstraintForType(JdkVersion{}))
	tasks.TaskEnd()

	config := types.NewConfig(
		types.WithTypes(Banner{}, JdkVersion{}),
	)
	parser := &engine.JsonParser{}
	ruleset, err := parser.DecodeRuleSet([]byte(rulesetFile))
	if err != nil {
		log.Fatal(err)
	}
	if err := engine.RegisterRuleSet(tasks, config, ruleset); err != nil {
		log.Fatal(err)
	}

	scheduler, err := engine.NewScheduler(tasks, config, &aspect.NodeDebug{})
	if err != nil {
		log.Fatal(err)
	}

	address := Address{Spec: "//src/jvm:main"}
	banners, err := scheduler.ProductRequest(types.ConstraintForType(Banner{}), []any{address})
	if err != nil {
		log.Fatal(err)
	}
	for _, b := range banners {
		fmt.Println(b)
	}

	classpaths, err := scheduler.ProductRequest(types.ConstraintForType(Classpath{}), []any{address})
	if err != nil {
		log.Fatal(err)
	}
	for _, cp := range classpaths {
		fmt.Println(cp)
	}
}
