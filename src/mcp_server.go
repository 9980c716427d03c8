package main

/*
   MCP endpoint for mrc. Registers the project state (studies, series,
   image counts) as resources and exposes the classification and NIfTI
   conversion steps as tools so that an MCP client can drive a whole
   conversion session.
*/

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"os"
	"strings"

	"github.com/google/jsonschema-go/jsonschema"
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

func startMCP(useHttp string, rootFolder string) error {
	// if the useHttp string is empty use stdin/stdout
	if useHttp == "" {
		log.Println("Starting MCP server using stdin/stdout")
	}

	opts := &mcp.ServerOptions{
		Instructions:      "Use this server with the MCP protocol in vcode or other clients.",
		CompletionHandler: complete, // support completions by setting this handler
		RootsListChangedHandler: func(ctx context.Context, req *mcp.RootsListChangedRequest) {
			// should we reject a change of the root if its not in the initial root folder?
		},
	}

	server := mcp.NewServer(&mcp.Implementation{Name: "mrc", Version: version}, opts)

	mcp.AddTool(server, &mcp.Tool{Name: "mrc/info", Description: "MRC is a set of tools to classify MR image series and convert them to NIfTI. The list of tools includes clearing out current data, adding new data, classifying series and converting them."}, mrcTool)
	mcp.AddTool(server, &mcp.Tool{Name: "ping"}, pingingTool)
	mcp.AddTool(server, &mcp.Tool{Name: "log"}, loggingTool)
	mcp.AddTool(server, &mcp.Tool{Name: "elicit"}, elicitingTool)
	mcp.AddTool(server, &mcp.Tool{Name: "roots"}, rootsTool)

	mcp.AddTool(server, &mcp.Tool{Name: "clear", Description: "MRC tool to clear out all data folders."}, clearOutDataCacheTool)
	mcp.AddTool(server, &mcp.Tool{Name: "add/data", Description: "Add a new data folder. Adding data will require mrc to parse the whole directory which takes some time. Wait for this operation to finish before querying the resources again."}, addDataCacheTool)
	mcp.AddTool(server, &mcp.Tool{Name: "classify/series", Description: "Return the sequence type detected for a single image series."}, classifySeriesTool)
	mcp.AddTool(server, &mcp.Tool{Name: "convert/series", Description: "Convert a single image series to NIfTI using dcm2niix. Returns the path of the NIfTI file. An existing conversion is reused."}, convertSeriesTool)
	mcp.AddTool(server, &mcp.Tool{Name: "change/root", Description: "Change to a new mrc folder."}, changeRootTool)

	// Add a basic prompt.
	server.AddPrompt(&mcp.Prompt{Name: "greet"}, prompt)

	// Add an embedded resource.
	server.AddResource(&mcp.Resource{
		Name:     "info",
		MIMEType: "text/plain",
		URI:      "embedded:info",
	}, embeddedResource)
	server.AddResource(&mcp.Resource{
		Name:     "data",
		MIMEType: "text/plain",
		URI:      "embedded:data",
	}, embeddedResource)
	server.AddResource(&mcp.Resource{
		Name:     "numstudies",
		MIMEType: "text/plain",
		URI:      "embedded:numstudies",
	}, embeddedResource)
	server.AddResource(&mcp.Resource{
		Name:     "numseries",
		MIMEType: "text/plain",
		URI:      "embedded:numseries",
	}, embeddedResource)
	server.AddResource(&mcp.Resource{
		Name:     "numimages",
		MIMEType: "text/plain",
		URI:      "embedded:numimages",
	}, embeddedResource)
	server.AddResource(&mcp.Resource{
		Name:     "numparticipants",
		MIMEType: "text/plain",
		URI:      "embedded:numparticipants",
	}, embeddedResource)

	// Serve over stdio, or streamable HTTP if -http is set. Both block
	// until the server stops; the returned error reaches the user, silent
	// exits on a taken port are confusing.
	if useHttp != "" {
		handler := mcp.NewStreamableHTTPHandler(func(*http.Request) *mcp.Server {
			return server
		}, nil)
		log.Printf("MCP handler listening at %s", useHttp)
		return http.ListenAndServe(useHttp, handler)
	}
	t := &mcp.LoggingTransport{Transport: &mcp.StdioTransport{}, Writer: os.Stderr}
	return server.Run(context.Background(), t)
}

func prompt(ctx context.Context, req *mcp.GetPromptRequest) (*mcp.GetPromptResult, error) {
	return &mcp.GetPromptResult{
		Description: "Hi prompt",
		Messages: []*mcp.PromptMessage{
			{
				Role:    "user",
				Content: &mcp.TextContent{Text: "Say hi to " + req.Params.Arguments["name"]},
			},
		},
	}, nil
}

var embeddedResources = map[string]string{
	"info":            "This is the 'mrc' tool server. 'mrc' is a tool to classify MR image series by sequence type and convert them to NIfTI.",
	"data":            "", // config.Data.Path,
	"numstudies":      "",
	"numseries":       "",
	"numimages":       "",
	"numparticipants": "",
}

// firstRootPath picks the project folder out of the roots a client
// reported. A client that reports no roots cannot be served.
func firstRootPath(roots []*mcp.Root) (string, error) {
	if len(roots) == 0 {
		return "", fmt.Errorf("the client reported no roots, add the project folder as a root first")
	}
	// the first root should contain the ".mrc/config"
	return strings.TrimPrefix(roots[0].URI, "file://"), nil
}

func getInputDir(ctx context.Context, session *mcp.ServerSession) (string, error) {
	res, err := session.ListRoots(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("listing roots failed: %v", err)
	}
	return firstRootPath(res.Roots)
}

func loadConfigFromRoots(ctx context.Context, session *mcp.ServerSession) (Config, error) {
	var err error
	if input_dir, err = getInputDir(ctx, session); err != nil {
		return Config{}, fmt.Errorf("failed to get the project directory: %v", err)
	}
	dir_path := input_dir + "/.mrc/config"
	config, err := readConfig(dir_path)
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config file: %v", err)
	}
	return config, nil
}

// add all fields to the embeddedResources global variable (update them)
func fillInEmbeddedResources(ctx context.Context, session *mcp.ServerSession) (map[string]string, error) {
	config, err := loadConfigFromRoots(ctx, session)
	if err != nil {
		return nil, err
	}
	embeddedResources["data"] = config.Data.Path
	embeddedResources["numstudies"] = fmt.Sprintf("%d", len(config.Data.DataInfo))

	datasets := config.Data.DataInfo
	numSeries := 0
	for _, v := range datasets {
		numSeries += len(v)
	}
	embeddedResources["numseries"] = fmt.Sprintf("%d", numSeries)

	numImages := 0
	for _, v := range datasets {
		for _, vv := range v {
			numImages += vv.NumImages
		}
	}
	embeddedResources["numimages"] = fmt.Sprintf("%d", numImages)

	var participants map[string]bool = make(map[string]bool)
	for _, v := range datasets {
		for _, vv := range v {
			participants[fmt.Sprintf("%s%s", vv.PatientID, vv.PatientName)] = true
		}
	}
	embeddedResources["numparticipants"] = fmt.Sprintf("%d", len(participants))
	return embeddedResources, nil
}

func embeddedResource(ctx context.Context, req *mcp.ReadResourceRequest) (*mcp.ReadResourceResult, error) {
	u, err := url.Parse(req.Params.URI)
	if err != nil {
		return nil, err
	}
	if u.Scheme != "embedded" {
		return nil, fmt.Errorf("wrong scheme: %q", u.Scheme)
	}
	key := u.Opaque
	text, ok := embeddedResources[key]
	if !ok {
		return nil, fmt.Errorf("no embedded resource named %q", key)
	}
	config, err := loadConfigFromRoots(ctx, req.Session)
	if err != nil {
		return nil, err
	}
	datasets := config.Data.DataInfo
	if key == "data" {
		text = config.Data.Path // this is relative to the mrc directory
	}
	if key == "numstudies" {
		text = fmt.Sprintf("%d", len(datasets))
	}
	if key == "numseries" {
		numSeries := 0
		for _, v := range datasets {
			numSeries += len(v)
		}
		text = fmt.Sprintf("%d", numSeries)
	}
	if key == "numimages" {
		numImages := 0
		for _, v := range datasets {
			for _, vv := range v {
				numImages += vv.NumImages
			}
		}
		text = fmt.Sprintf("%d", numImages)
	}
	if key == "numparticipants" {
		var participants map[string]bool = make(map[string]bool)
		for _, v := range datasets {
			for _, vv := range v {
				participants[fmt.Sprintf("%s%s", vv.PatientID, vv.PatientName)] = true
			}
		}
		text = fmt.Sprintf("%d", len(participants))
	}

	if text == "" {
		text = "empty string"
	}

	return &mcp.ReadResourceResult{
		Contents: []*mcp.ResourceContents{
			{URI: req.Params.URI, MIMEType: "text/plain", Text: text},
		},
	}, nil
}

type args struct {
	Name string `json:"name" jsonschema:"the name to say hi to"`
}

type argsPath struct {
	Path string `json:"path" jsonschema:"the data folder with DICOM images to add"`
}

type argsSeries struct {
	SeriesInstanceUID string `json:"series_instance_uid" jsonschema:"the SeriesInstanceUID of the image series"`
}

type argsConvert struct {
	SeriesInstanceUID string `json:"series_instance_uid" jsonschema:"the SeriesInstanceUID of the image series to convert"`
	Destination       string `json:"destination,omitempty" jsonschema:"optional output path without extension, a default path next to the DICOM data is used if empty"`
	Uncompressed      bool   `json:"uncompressed,omitempty" jsonschema:"write a plain .nii instead of .nii.gz"`
}

type result struct {
	Message string `json:"message" jsonschema:"the message to convey"`
}

// if we clear out the data cache we need a result that reports the total numbers
type resultDataCache struct {
	Message    string `json:"message" jsonschema:"the message to convey"`
	NumStudies int    `json:"numstudies" jsonschema:"the number of DICOM studies"`
	NumSeries  int    `json:"numseries" jsonschema:"the number of DICOM image series"`
	NumImages  int    `json:"numimages" jsonschema:"the number of DICOM images"`
}

type resultClassify struct {
	SeriesDescription string   `json:"series_description" jsonschema:"the protocol name of the series"`
	SequenceType      string   `json:"sequence_type" jsonschema:"the detected sequence type, empty if the series could not be classified"`
	ScanningSequence  []string `json:"scanning_sequence" jsonschema:"the ScanningSequence codes of the series"`
	SequenceVariant   []string `json:"sequence_variant" jsonschema:"the SequenceVariant codes of the series"`
}

type resultConvert struct {
	Message   string `json:"message" jsonschema:"the message to convey"`
	NiftiPath string `json:"nifti_path" jsonschema:"the path of the NIfTI file"`
}

// TOOL
func clearOutDataCacheTool(ctx context.Context, req *mcp.CallToolRequest, args *args) (*mcp.CallToolResult, *resultDataCache, error) {
	// find out if there is data, if there is no mrc folder produce an error
	config, err := loadConfigFromRoots(ctx, req.Session)
	if err != nil {
		return nil, &resultDataCache{Message: "Error could not read config file from mrc directory."}, err
	}

	config.Data.DataInfo = make(map[string]map[string]ScanInfo)
	config.Data.Path = ""

	// this will use input_dir to write
	if !config.writeConfig() {
		return nil, &resultDataCache{Message: "Error could not write config file into mrc directory."}, err
	}

	// return that we cleared out the data cache, return the current number of dataset as well
	return nil, &resultDataCache{Message: "Removed all data", NumStudies: 0, NumSeries: 0, NumImages: 0}, nil
}

func changeRootTool(ctx context.Context, req *mcp.CallToolRequest, args *args) (*mcp.CallToolResult, *resultDataCache, error) {
	// The getInputDir will lookup the value from the roots again, we need to add the input_dir there.
	// Right now the only place we can add it is from the client (MCP Inspector).
	input_dir = args.Name
	return nil, &resultDataCache{Message: "Changed to the new root path", NumStudies: 0, NumSeries: 0, NumImages: 0}, nil
}

func addDataCacheTool(ctx context.Context, req *mcp.CallToolRequest, args *argsPath) (*mcp.CallToolResult, *resultDataCache, error) {
	// find out if there is data, if there is no mrc folder produce an error
	config, err := loadConfigFromRoots(ctx, req.Session)
	if err != nil {
		return nil, &resultDataCache{Message: "Error could not read config file from mrc directory."}, err
	}

	// The following will take a while... should we report back of our progress?
	config.Data.Path = string(args.Path)
	studies, err := dataSets(config)
	if err != nil {
		return nil, &resultDataCache{Message: fmt.Sprintf("Error parsing the data folder: %v", err)}, err
	}
	if len(studies) == 0 {
		fmt.Println("We did not find any DICOM files in the folder you provided. Please check if the files are available, un-compress any zip files to make them accessible to this tool.")
	}

	// update the config file now - the above dataSets can take a long time!
	dir_path := input_dir + "/.mrc/config"
	config, err = readConfig(dir_path)
	if err != nil {
		return nil, &resultDataCache{Message: "Error could not re-read config file from mrc directory."}, err
	}
	config.Data.DataInfo = studies
	config.Data.Path = args.Path

	// this will use input_dir to write
	if !config.writeConfig() {
		return nil, &resultDataCache{Message: "Error could not write config file into mrc directory."}, err
	}

	numSeries := 0
	numImages := 0
	for _, v := range studies {
		numSeries += len(v)
		for _, vv := range v {
			numImages += vv.NumImages
		}
	}
	return nil, &resultDataCache{Message: "Added the data path", NumStudies: len(studies), NumSeries: numSeries, NumImages: numImages}, nil
}

// classifySeriesTool looks up a single series in the cache and reports its sequence type.
func classifySeriesTool(ctx context.Context, req *mcp.CallToolRequest, args *argsSeries) (*mcp.CallToolResult, *resultClassify, error) {
	config, err := loadConfigFromRoots(ctx, req.Session)
	if err != nil {
		return nil, nil, err
	}
	info, err := findScanInfo(config.Data.DataInfo, args.SeriesInstanceUID)
	if err != nil {
		return nil, nil, err
	}
	return nil, &resultClassify{
		SeriesDescription: info.SeriesDescription,
		SequenceType:      info.SequenceType,
		ScanningSequence:  info.ScanningSequence,
		SequenceVariant:   info.SequenceVariant,
	}, nil
}

// convertSeriesTool runs dcm2niix for a single series, or hands back an
// already existing conversion.
func convertSeriesTool(ctx context.Context, req *mcp.CallToolRequest, args *argsConvert) (*mcp.CallToolResult, *resultConvert, error) {
	config, err := loadConfigFromRoots(ctx, req.Session)
	if err != nil {
		return nil, nil, err
	}
	niftiPath, err := GetOrConvertNIfTI(&config, args.SeriesInstanceUID, args.Destination, !args.Uncompressed, true)
	if err != nil {
		return nil, &resultConvert{Message: fmt.Sprintf("Error: %v", err)}, err
	}
	if !config.writeConfig() {
		return nil, &resultConvert{Message: "Error could not write config file into mrc directory.", NiftiPath: niftiPath}, nil
	}
	return nil, &resultConvert{Message: "Converted the series", NiftiPath: niftiPath}, nil
}

// mrcTool returns a structured result.
func mrcTool(ctx context.Context, req *mcp.CallToolRequest, args *args) (*mcp.CallToolResult, *result, error) {
	resources, err := fillInEmbeddedResources(ctx, req.Session)
	if err != nil {
		return &mcp.CallToolResult{
			Content: []mcp.Content{
				&mcp.TextContent{Text: fmt.Sprintf("Error, could not fill in the resource information, %v", err)},
			},
		}, &result{Message: "MRC is a set of tools to classify MR image series and convert them to NIfTI"}, nil
	}
	jsonContent, err := json.Marshal(resources)
	if err != nil {
		return nil, nil, err
	}
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			&mcp.TextContent{Text: string(jsonContent)},
		},
	}, &result{Message: "MRC is a set of tools to classify MR image series and convert them to NIfTI"}, nil
}

func pingingTool(ctx context.Context, req *mcp.CallToolRequest, _ any) (*mcp.CallToolResult, any, error) {
	if err := req.Session.Ping(ctx, nil); err != nil {
		return nil, nil, fmt.Errorf("ping failed")
	}
	return nil, nil, nil
}

func loggingTool(ctx context.Context, req *mcp.CallToolRequest, _ any) (*mcp.CallToolResult, any, error) {
	if err := req.Session.Log(ctx, &mcp.LoggingMessageParams{
		Data:  "something happened!",
		Level: "error",
	}); err != nil {
		return nil, nil, fmt.Errorf("log failed")
	}
	return nil, nil, nil
}

func rootsTool(ctx context.Context, req *mcp.CallToolRequest, _ any) (*mcp.CallToolResult, any, error) {
	res, err := req.Session.ListRoots(ctx, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("listing roots failed: %v", err)
	}
	var allroots []string
	for _, r := range res.Roots {
		allroots = append(allroots, fmt.Sprintf("%s:%s", r.Name, r.URI))
	}
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			&mcp.TextContent{Text: strings.Join(allroots, ",")},
		},
	}, nil, nil
}

func elicitingTool(ctx context.Context, req *mcp.CallToolRequest, _ any) (*mcp.CallToolResult, any, error) {
	res, err := req.Session.Elicit(ctx, &mcp.ElicitParams{
		Message: "provide a random string",
		RequestedSchema: &jsonschema.Schema{
			Type: "object",
			Properties: map[string]*jsonschema.Schema{
				"random": {Type: "string"},
			},
		},
	})
	if err != nil {
		return nil, nil, fmt.Errorf("eliciting failed: %v", err)
	}
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			&mcp.TextContent{Text: res.Content["random"].(string)},
		},
	}, nil, nil
}

func complete(ctx context.Context, req *mcp.CompleteRequest) (*mcp.CompleteResult, error) {
	var suggestions []string
	switch req.Params.Ref.Type {
	case "ref/prompt":
		suggestions = []string{"mrc init", "mrc classify", "mrc convert"}
	case "ref/resource":
		suggestions = []string{"numstudies", "numseries", "numimages", "numparticipants"}
	default:
		return nil, fmt.Errorf("unrecognized content type %s", req.Params.Ref.Type)
	}

	return &mcp.CompleteResult{
		Completion: mcp.CompletionResultDetails{
			Total:  len(suggestions),
			Values: suggestions,
		},
	}, nil
}
