// Package docs registers the macaria OpenAPI document with swag.
//
// Code generated by swaggo/swag from the handler annotations in
// internal/transport/http. Regenerate with:
//
//	swag init -g internal/transport/http/http.go -o docs
package docs

import "github.com/swaggo/swag"

const docTemplate = `{
    "schemes": {{ marshal .Schemes }},
    "swagger": "2.0",
    "info": {
        "description": "{{escape .Description}}",
        "title": "{{.Title}}",
        "contact": {},
        "version": "{{.Version}}"
    },
    "host": "{{.Host}}",
    "basePath": "{{.BasePath}}",
    "paths": {
        "/v1/explain": {
            "post": {
                "tags": ["speech"],
                "summary": "Speak the usage help",
                "responses": {
                    "202": {"description": "Speech started"},
                    "503": {"description": "Speech synthesis disabled", "schema": {"type": "string"}}
                }
            }
        },
        "/v1/status": {
            "get": {
                "produces": ["application/json"],
                "tags": ["session"],
                "summary": "Current status",
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/http.StatusResponse"}}
                }
            }
        },
        "/v1/utterances": {
            "post": {
                "description": "Delivers a finalized transcript to the interaction state machine as if a recognizer produced it.",
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["session"],
                "summary": "Submit a transcript",
                "parameters": [
                    {
                        "description": "Transcript",
                        "name": "utterance",
                        "in": "body",
                        "required": true,
                        "schema": {"$ref": "#/definitions/http.UtteranceRequest"}
                    }
                ],
                "responses": {
                    "202": {"description": "Accepted", "schema": {"$ref": "#/definitions/http.UtteranceResponse"}},
                    "400": {"description": "Invalid body or empty text", "schema": {"type": "string"}},
                    "503": {"description": "No injector configured or queue full", "schema": {"type": "string"}}
                }
            }
        },
        "/v1/vocabulary": {
            "get": {
                "produces": ["application/json"],
                "tags": ["commands"],
                "summary": "Command vocabulary",
                "responses": {
                    "200": {
                        "description": "OK",
                        "schema": {"type": "array", "items": {"$ref": "#/definitions/http.VocabularyEntry"}}
                    }
                }
            }
        }
    },
    "definitions": {
        "http.StatusResponse": {
            "type": "object",
            "properties": {
                "session": {"$ref": "#/definitions/session.Snapshot"},
                "status": {"$ref": "#/definitions/status.Snapshot"}
            }
        },
        "http.UtteranceRequest": {
            "type": "object",
            "properties": {
                "text": {"type": "string", "example": "Macaria, avanza"}
            }
        },
        "http.UtteranceResponse": {
            "type": "object",
            "properties": {
                "accepted": {"type": "boolean"},
                "normalized": {"type": "string", "example": "macaria avanza"}
            }
        },
        "http.VocabularyEntry": {
            "type": "object",
            "properties": {
                "label": {"type": "string", "example": "vuelta derecha"},
                "rules": {"type": "array", "items": {"type": "string"}},
                "tag": {"type": "string", "example": "turn-right"}
            }
        },
        "session.Snapshot": {
            "type": "object",
            "properties": {
                "idle_timeout": {"type": "integer"},
                "in_flight": {"type": "integer"},
                "last_command": {"type": "string"},
                "last_seq": {"type": "integer"},
                "state": {"type": "string"},
                "wake_word": {"type": "string"}
            }
        },
        "status.Snapshot": {
            "type": "object",
            "properties": {
                "command": {"type": "string"},
                "mode": {"type": "string"},
                "substatus": {"type": "string"},
                "transcript": {"type": "string"},
                "updated_at": {"type": "string"}
            }
        }
    }
}`

// SwaggerInfo holds exported Swagger Info so clients can modify it
var SwaggerInfo = &swag.Spec{
	Version:          "1.0",
	Host:             "",
	BasePath:         "/",
	Schemes:          []string{},
	Title:            "Macaria API",
	Description:      "Voice-command front-end: typed transcripts, status and spoken help.",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  docTemplate,
	LeftDelim:        "{{",
	RightDelim:       "}}",
}

func init() {
	swag.Register(SwaggerInfo.InstanceName(), SwaggerInfo)
}
