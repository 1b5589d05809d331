package api

import (
	"github.com/xeipuuv/gojsonschema"
)

var inputSchemas = map[string]string{
	"DownloadVideo": `{
		"type": "object",
		"properties": {
			"url": {"type": "string", "minLength": 1, "format": "uri"},
			"project_id": {"type": "integer", "minimum": 1},
			"quality": {"type": "string"},
			"cookies_file": {"type": "string"}
		},
		"required": ["url", "project_id"],
		"additionalProperties": false
	}`,
	"ValidateSliceData": `{
		"type": "object",
		"properties": {
			"video_id": {"type": "integer", "minimum": 1},
			"cover_title": {"type": "string", "minLength": 1},
			"analysis_data": {
				"type": "array",
				"items": {
					"type": "object",
					"properties": {
						"cover_title": {"type": "string"},
						"title": {"type": "string"},
						"desc": {"type": "string"},
						"tags": {"type": "array", "items": {"type": "string"}},
						"start": {"type": "string"},
						"end": {"type": "string"},
						"chapters": {
							"type": "array",
							"items": {
								"type": "object",
								"properties": {
									"cover_title": {"type": "string"},
									"title": {"type": "string"},
									"desc": {"type": "string"},
									"start": {"type": "string"},
									"end": {"type": "string"}
								},
								"required": ["cover_title", "start", "end"]
							}
						}
					},
					"required": ["cover_title", "title", "start", "end"]
				}
			}
		},
		"required": ["video_id", "cover_title", "analysis_data"],
		"additionalProperties": false
	}`,
	"ProcessSlices": `{
		"type": "object",
		"properties": {
			"analysis_id": {"type": "integer", "minimum": 1},
			"video_id": {"type": "integer", "minimum": 1}
		},
		"required": ["analysis_id", "video_id"],
		"additionalProperties": false
	}`,
}

var inputSchemasCompiled = func() map[string]*gojsonschema.Schema {
	compiled := make(map[string]*gojsonschema.Schema, len(inputSchemas))
	for name, schema := range inputSchemas {
		s, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(schema))
		if err != nil {
			panic("invalid request schema " + name + ": " + err.Error())
		}
		compiled[name] = s
	}
	return compiled
}()
