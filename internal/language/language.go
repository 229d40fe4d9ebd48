// Package language defines the supported submission languages and their
// static execution configuration (images, filenames, compile/run commands).
package language

import (
	"fmt"
	"strings"
)

// Language is a supported submission language.
type Language string

const (
	Python     Language = "python"
	JavaScript Language = "javascript"
	Java       Language = "java"
	CPP        Language = "cpp"
)

// Config is the static per-language execution configuration. The variance
// across languages is purely data; there is no per-language behavior.
type Config struct {
	// Image is the pinned runner image. It is never pulled implicitly.
	Image string
	// FallbackImage is a public image used when Image is absent locally.
	// The fallback may be pulled.
	FallbackImage string
	// FileName is the source file name inside the sandbox scratch dir.
	FileName string
	// CompileCmd is empty for interpreted languages.
	CompileCmd []string
	RunCmd     []string
}

var configs = map[Language]Config{
	Python: {
		Image:         "arena/python-runner:latest",
		FallbackImage: "python:3.11-alpine",
		FileName:      "solution.py",
		RunCmd:        []string{"python", "/code/solution.py"},
	},
	JavaScript: {
		Image:         "arena/javascript-runner:latest",
		FallbackImage: "node:20-alpine",
		FileName:      "solution.js",
		RunCmd:        []string{"node", "/code/solution.js"},
	},
	Java: {
		Image:         "arena/java-runner:latest",
		FallbackImage: "openjdk:17-alpine",
		FileName:      "Solution.java",
		CompileCmd:    []string{"javac", "/code/Solution.java"},
		RunCmd:        []string{"java", "-cp", "/code", "Solution"},
	},
	CPP: {
		Image:         "arena/cpp-runner:latest",
		FallbackImage: "gcc:11",
		FileName:      "solution.cpp",
		CompileCmd:    []string{"g++", "-o", "/code/solution", "/code/solution.cpp", "-O2"},
		RunCmd:        []string{"/code/solution"},
	},
}

// Parse resolves a language tag, accepting common aliases.
func Parse(tag string) (Language, error) {
	switch strings.ToLower(strings.TrimSpace(tag)) {
	case "python", "py", "python3":
		return Python, nil
	case "javascript", "js", "node", "nodejs":
		return JavaScript, nil
	case "java":
		return Java, nil
	case "cpp", "c++":
		return CPP, nil
	default:
		return "", fmt.Errorf("unsupported language: %s", tag)
	}
}

// Config returns the static configuration for l. l must come from Parse.
func (l Language) Config() Config {
	return configs[l]
}

// All lists the supported languages.
func All() []Language {
	return []Language{Python, JavaScript, Java, CPP}
}

func (l Language) String() string {
	return string(l)
}
