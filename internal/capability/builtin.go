package capability

import "github.com/tapcanvas/tapcanvas/ai-engine/pkg/models"

// LayoutTypes is the enumerated set of layouts the client can apply.
var LayoutTypes = []string{"horizontal", "vertical", "grid", "circular", "tree", "force"}

// NodeKinds is the enumerated set of creatable canvas node kinds.
var NodeKinds = []string{"text", "image", "textToImage", "composeVideo", "video"}

// RegisterBuiltins registers the standard canvas capability set and
// freezes the registry.
func RegisterBuiltins(r *Registry) error {
	caps := []models.Capability{
		{
			Domain:      models.DomainNodeManipulation,
			Name:        "create-node",
			Description: "Create a new node on the canvas",
			Modes:       []models.OperationMode{models.ModeDirect, models.ModeBatch},
			Params: []models.ParamSpec{
				{Name: "nodeType", Type: models.ParamEnum, Required: true, Default: "text", Options: NodeKinds},
				{Name: "label", Type: models.ParamString},
				{Name: "prompt", Type: models.ParamString},
				{Name: "position", Type: models.ParamObject},
			},
			Patterns: []models.IntentPattern{
				{Pattern: "create node", Weight: 0.9, Examples: []string{"create an image node", "add a new node"}},
				{Pattern: "add node", Weight: 0.85},
				{Pattern: "new node", Weight: 0.8},
				{Pattern: "generate image", Weight: 0.8},
				{Pattern: "生成图片", Weight: 0.9},
				{Pattern: "生成视频", Weight: 0.9},
			},
			WebAction: models.WebActionMapping{Kind: models.WebActionFunction, Function: "createNode"},
		},
		{
			Domain:      models.DomainNodeManipulation,
			Name:        "connect-nodes",
			Description: "Connect two nodes source to target",
			Modes:       []models.OperationMode{models.ModeDirect},
			Params: []models.ParamSpec{
				{Name: "source", Type: models.ParamString, Required: true},
				{Name: "target", Type: models.ParamString, Required: true},
			},
			Patterns: []models.IntentPattern{
				{Pattern: "connect nodes", Weight: 0.9},
				{Pattern: "link nodes", Weight: 0.85},
				{Pattern: "连接节点", Weight: 0.9},
			},
			// source and target must differ, self-loops are never valid
			Constraint: `params.source != params.target`,
			WebAction:  models.WebActionMapping{Kind: models.WebActionFunction, Function: "connectNodes"},
		},
		{
			Domain:      models.DomainNodeManipulation,
			Name:        "delete-node",
			Description: "Remove a node and its edges from the canvas",
			Modes:       []models.OperationMode{models.ModeDirect, models.ModeBatch},
			Params: []models.ParamSpec{
				{Name: "nodeId", Type: models.ParamString, Required: true},
			},
			Patterns: []models.IntentPattern{
				{Pattern: "delete node", Weight: 0.9},
				{Pattern: "remove node", Weight: 0.85},
				{Pattern: "删除节点", Weight: 0.9},
			},
			WebAction: models.WebActionMapping{Kind: models.WebActionFunction, Function: "deleteNode"},
		},
		{
			Domain:      models.DomainContentGeneration,
			Name:        "generate-content",
			Description: "Run a generation node to produce an image or video",
			Modes:       []models.OperationMode{models.ModeDirect, models.ModeIterative},
			Params: []models.ParamSpec{
				{Name: "nodeId", Type: models.ParamString},
				{Name: "prompt", Type: models.ParamString},
				{Name: "mediaKind", Type: models.ParamEnum, Options: []string{"image", "video"}},
			},
			Patterns: []models.IntentPattern{
				{Pattern: "generate", Weight: 0.7},
				{Pattern: "run node", Weight: 0.85},
				{Pattern: "render", Weight: 0.7},
				{Pattern: "运行", Weight: 0.8},
			},
			WebAction: models.WebActionMapping{Kind: models.WebActionFunction, Function: "runNode"},
		},
		{
			Domain:      models.DomainLayoutArrangement,
			Name:        "auto-layout",
			Description: "Rearrange the canvas using a named layout",
			Modes:       []models.OperationMode{models.ModeDirect},
			Params: []models.ParamSpec{
				{Name: "layoutType", Type: models.ParamEnum, Required: true, Default: "grid", Options: LayoutTypes},
				{Name: "spacing", Type: models.ParamNumber},
			},
			Patterns: []models.IntentPattern{
				{Pattern: "layout", Weight: 0.8},
				{Pattern: "arrange", Weight: 0.8},
				{Pattern: "organize canvas", Weight: 0.85},
				{Pattern: "tidy up", Weight: 0.75},
				{Pattern: "整理", Weight: 0.8},
			},
			// spacing, when given, must be positive
			Constraint: `params.spacing == nil || float(params.spacing) > 0`,
			WebAction:  models.WebActionMapping{Kind: models.WebActionFunction, Function: "autoLayout"},
		},
		{
			Domain:      models.DomainExecutionDebug,
			Name:        "run-dag",
			Description: "Execute the node graph from its roots",
			Modes:       []models.OperationMode{models.ModeDirect, models.ModeConditional},
			Params: []models.ParamSpec{
				{Name: "startNodeId", Type: models.ParamString},
				{Name: "dryRun", Type: models.ParamBool},
			},
			Patterns: []models.IntentPattern{
				{Pattern: "run workflow", Weight: 0.85},
				{Pattern: "execute", Weight: 0.7},
				{Pattern: "debug", Weight: 0.75},
				{Pattern: "optimize", Weight: 0.6},
			},
			WebAction: models.WebActionMapping{Kind: models.WebActionFunction, Function: "runDag"},
		},
		{
			Domain:      models.DomainWorkflowAutomation,
			Name:        "compose-pipeline",
			Description: "Build a multi-node generation pipeline in one pass",
			Modes:       []models.OperationMode{models.ModeBatch, models.ModeIterative},
			Params: []models.ParamSpec{
				{Name: "sceneCount", Type: models.ParamNumber},
				{Name: "style", Type: models.ParamString},
			},
			Patterns: []models.IntentPattern{
				{Pattern: "workflow", Weight: 0.75},
				{Pattern: "pipeline", Weight: 0.8},
				{Pattern: "story", Weight: 0.65},
				{Pattern: "续写", Weight: 0.8},
			},
			// scene counts beyond the narrative cap are rejected up front
			Constraint: `params.sceneCount == nil || int(params.sceneCount) <= 12`,
			WebAction:  models.WebActionMapping{Kind: models.WebActionEvent, Channel: "canvas.pipeline"},
		},
	}

	for _, c := range caps {
		if err := r.Register(c); err != nil {
			return err
		}
	}
	r.Freeze()
	return nil
}
