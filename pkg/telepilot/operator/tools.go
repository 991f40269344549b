// tools.go declares the tool schemas exposed to the reasoning service and the
// argument structs they decode into.
package operator

import "encoding/json"

// runCommandArgs are the arguments for the run_command tool.
type runCommandArgs struct {
	Command            string `json:"command"`
	Script             string `json:"script"`
	Shell              string `json:"shell"`
	FilePath           string `json:"file_path"`
	TimeoutMs          int    `json:"timeout_ms"`
	Cwd                string `json:"cwd"`
	UseStructuredShell bool   `json:"use_structured_shell"`
}

// captureScreenArgs are the arguments for the capture_screen tool.
type captureScreenArgs struct {
	Caption  string `json:"caption"`
	FilePath string `json:"file_path"`
}

// captureCameraArgs are the arguments for the capture_camera_photo tool.
type captureCameraArgs struct {
	DeviceName string `json:"device_name"`
	Width      int    `json:"width"`
	Height     int    `json:"height"`
	FPS        int    `json:"fps"`
	Format     string `json:"format"`
	FilePath   string `json:"file_path"`
	Caption    string `json:"caption"`
}

// browseSiteArgs are the arguments for the browse_site tool. Headless is a
// pointer so an omitted value keeps the default (true) instead of false.
type browseSiteArgs struct {
	URL         string `json:"url"`
	Task        string `json:"task"`
	MaxSteps    int    `json:"max_steps"`
	Headless    *bool  `json:"headless"`
	UseVision   bool   `json:"use_vision"`
	LLMProvider string `json:"llm_provider"`
	LLMModel    string `json:"llm_model"`
	Screenshot  bool   `json:"screenshot"`
	FullPage    bool   `json:"full_page"`
	Caption     string `json:"caption"`
}

// repairDependenciesArgs are the arguments for the repair_dependencies tool.
type repairDependenciesArgs struct {
	Reason string `json:"reason"`
}

// toolDefinitions returns the tool schemas advertised to the reasoning
// service on every request.
func toolDefinitions() []ToolDefinition {
	return []ToolDefinition{
		{
			Type: "function",
			Function: FunctionDef{
				Name:        "run_command",
				Description: "Run a shell command or multi-line script on the machine. Use command for one-liners and script for multi-line programs; never both. Shell is detected automatically unless pinned.",
				Parameters: json.RawMessage(`{
					"type": "object",
					"properties": {
						"command": {"type": "string", "description": "Single command line to execute."},
						"script": {"type": "string", "description": "Multi-line script body, written to a temp file and executed."},
						"shell": {"type": "string", "enum": ["auto", "cmd", "powershell", "bash"], "description": "Interpreter to use. Default auto-detects."},
						"file_path": {"type": "string", "description": "Optional path to write the script to instead of a temp file."},
						"timeout_ms": {"type": "integer", "description": "Execution timeout in milliseconds. Default 30000."},
						"cwd": {"type": "string", "description": "Working directory for the command."},
						"use_structured_shell": {"type": "boolean", "description": "Force the structured (PowerShell) interpreter."}
					}
				}`),
			},
		},
		{
			Type: "function",
			Function: FunctionDef{
				Name:        "capture_screen",
				Description: "Capture a screenshot of the machine's display and deliver it to the operator chat.",
				Parameters: json.RawMessage(`{
					"type": "object",
					"properties": {
						"caption": {"type": "string", "description": "Caption to send with the screenshot."},
						"file_path": {"type": "string", "description": "Optional path to save the screenshot to."}
					}
				}`),
			},
		},
		{
			Type: "function",
			Function: FunctionDef{
				Name:        "capture_camera_photo",
				Description: "Take a photo with the machine's camera and deliver it to the operator chat.",
				Parameters: json.RawMessage(`{
					"type": "object",
					"properties": {
						"device_name": {"type": "string", "description": "Camera device name. Default is the first available device."},
						"width": {"type": "integer"},
						"height": {"type": "integer"},
						"fps": {"type": "integer"},
						"format": {"type": "string", "enum": ["jpg", "png"]},
						"file_path": {"type": "string", "description": "Optional path to save the photo to."},
						"caption": {"type": "string", "description": "Caption to send with the photo."}
					}
				}`),
			},
		},
		{
			Type: "function",
			Function: FunctionDef{
				Name:        "browse_site",
				Description: "Drive the autonomous web-browsing agent against a URL. Use for anything that needs page interaction, not for simple launches of a visible browser window.",
				Parameters: json.RawMessage(`{
					"type": "object",
					"required": ["url"],
					"properties": {
						"url": {"type": "string", "description": "Target URL. http/https only."},
						"task": {"type": "string", "description": "Natural-language task for the agent to perform on the site."},
						"max_steps": {"type": "integer", "description": "Maximum agent steps. Default 25."},
						"headless": {"type": "boolean", "description": "Run the browser headless. Default true."},
						"use_vision": {"type": "boolean", "description": "Let the agent use screenshots to understand pages."},
						"llm_provider": {"type": "string", "enum": ["openai", "anthropic"]},
						"llm_model": {"type": "string"},
						"screenshot": {"type": "boolean", "description": "Capture a final screenshot of the page."},
						"full_page": {"type": "boolean", "description": "Capture the full page, not just the viewport."},
						"caption": {"type": "string", "description": "Caption for the delivered screenshot."}
					}
				}`),
			},
		},
		{
			Type: "function",
			Function: FunctionDef{
				Name:        "repair_dependencies",
				Description: "Reinstall the browsing agent's local dependencies. Use only after a browse failed with a missing-module or browser-disconnected error.",
				Parameters: json.RawMessage(`{
					"type": "object",
					"properties": {
						"reason": {"type": "string", "description": "Why the repair is needed."}
					}
				}`),
			},
		},
	}
}
