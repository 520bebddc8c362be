package swagger

import "github.com/swaggo/swag"

const docTemplate = `{
    "swagger": "2.0",
    "info": {
        "title": "Dayline API",
        "description": "Daily task board with media attachments and async exports",
        "version": "0.1.0"
    },
    "basePath": "/api/v1",
    "schemes": [
        "http"
    ],
    "tags": [
        {"name": "Tasks", "description": "Task lifecycle and day-to-day continuation"},
        {"name": "Media", "description": "Artifact registry and upload sessions"},
        {"name": "Reports", "description": "Asynchronous task summary exports"},
        {"name": "Blobs", "description": "Dev-mode token-guarded object storage"}
    ],
    "paths": {
        "/tasks": {
            "post": {
                "tags": ["Tasks"],
                "summary": "Create task",
                "parameters": [
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/CreateTaskRequest"}}
                ],
                "responses": {
                    "201": {"description": "Created", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/tasks/incomplete": {
            "get": {
                "tags": ["Tasks"],
                "summary": "List unfinished tasks eligible for continuation",
                "parameters": [
                    {"name": "ownerId", "in": "query", "type": "string"},
                    {"name": "from", "in": "query", "type": "string"},
                    {"name": "to", "in": "query", "type": "string"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/tasks/{id}": {
            "get": {
                "tags": ["Tasks"],
                "summary": "Get task with media set",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            },
            "patch": {
                "tags": ["Tasks"],
                "summary": "Update task fields",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"},
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/UpdateTaskRequest"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            },
            "delete": {
                "tags": ["Tasks"],
                "summary": "Delete task",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "204": {"description": "No Content"}
                }
            }
        },
        "/tasks/{id}/progress": {
            "patch": {
                "tags": ["Tasks"],
                "summary": "Set progress percentage",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"},
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/SetProgressRequest"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/tasks/{id}/continue": {
            "post": {
                "tags": ["Tasks"],
                "summary": "Carry an unfinished task over to a new day",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "201": {"description": "Created", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "409": {"description": "Already completed or already continued"}
                }
            }
        },
        "/media/credentials": {
            "post": {
                "tags": ["Media"],
                "summary": "Mint presigned write/read handles",
                "parameters": [
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/CredentialRequest"}}
                ],
                "responses": {
                    "201": {"description": "Created", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/media/{id}/caption": {
            "patch": {
                "tags": ["Media"],
                "summary": "Set or clear artifact caption",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"},
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/CaptionRequest"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/media/{id}/url": {
            "get": {
                "tags": ["Media"],
                "summary": "Return a fresh read URL for an artifact",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/records/{type}/{id}/media": {
            "get": {
                "tags": ["Media"],
                "summary": "List a record's media set",
                "parameters": [
                    {"name": "type", "in": "path", "required": true, "type": "string"},
                    {"name": "id", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            },
            "post": {
                "tags": ["Media"],
                "summary": "Attach uploaded objects to a record",
                "parameters": [
                    {"name": "type", "in": "path", "required": true, "type": "string"},
                    {"name": "id", "in": "path", "required": true, "type": "string"},
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/AttachRequest"}}
                ],
                "responses": {
                    "201": {"description": "Created", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/records/{type}/{id}/media/{artifactId}": {
            "delete": {
                "tags": ["Media"],
                "summary": "Detach an artifact (idempotent)",
                "parameters": [
                    {"name": "type", "in": "path", "required": true, "type": "string"},
                    {"name": "id", "in": "path", "required": true, "type": "string"},
                    {"name": "artifactId", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "204": {"description": "No Content"}
                }
            }
        },
        "/records/{type}/{id}/uploads": {
            "post": {
                "tags": ["Media"],
                "summary": "Queue a batch upload session",
                "consumes": ["multipart/form-data"],
                "parameters": [
                    {"name": "type", "in": "path", "required": true, "type": "string"},
                    {"name": "id", "in": "path", "required": true, "type": "string"},
                    {"name": "files", "in": "formData", "required": true, "type": "file"}
                ],
                "responses": {
                    "202": {"description": "Accepted", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/uploads/{id}": {
            "get": {
                "tags": ["Media"],
                "summary": "Poll an upload session",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            },
            "delete": {
                "tags": ["Media"],
                "summary": "Cancel an upload session",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "204": {"description": "No Content"}
                }
            }
        },
        "/reports": {
            "post": {
                "tags": ["Reports"],
                "summary": "Queue a task summary export",
                "parameters": [
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/CreateReportRequest"}}
                ],
                "responses": {
                    "202": {"description": "Accepted", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/reports/{id}": {
            "get": {
                "tags": ["Reports"],
                "summary": "Poll an export job",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/reports/download/{token}": {
            "get": {
                "tags": ["Reports"],
                "summary": "Download a finished export",
                "parameters": [
                    {"name": "token", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "OK"},
                    "403": {"description": "Invalid or expired token"}
                }
            }
        },
        "/blobs/{key}": {
            "put": {
                "tags": ["Blobs"],
                "summary": "Write a blob with a signed write token",
                "parameters": [
                    {"name": "key", "in": "path", "required": true, "type": "string"},
                    {"name": "token", "in": "query", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "OK"}
                }
            },
            "get": {
                "tags": ["Blobs"],
                "summary": "Read a blob with a signed read token",
                "parameters": [
                    {"name": "key", "in": "path", "required": true, "type": "string"},
                    {"name": "token", "in": "query", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "OK"}
                }
            }
        }
    },
    "definitions": {
        "Task": {
            "type": "object",
            "properties": {
                "id": {"type": "string"},
                "ownerId": {"type": "string"},
                "title": {"type": "string"},
                "description": {"type": "string"},
                "status": {"type": "string", "enum": ["IN_PROGRESS", "COMPLETED", "ON_HOLD"]},
                "progress": {"type": "number"},
                "priority": {"type": "string"},
                "notes": {"type": "string"},
                "taskDate": {"type": "string"},
                "dueDate": {"type": "string"},
                "dueUrgency": {"type": "string", "enum": ["NONE", "LATER", "SOON", "OVERDUE"]},
                "continuedFrom": {"type": "string"},
                "createdAt": {"type": "string"},
                "updatedAt": {"type": "string"}
            }
        },
        "Artifact": {
            "type": "object",
            "properties": {
                "id": {"type": "string"},
                "parentType": {"type": "string"},
                "parentId": {"type": "string"},
                "storageKey": {"type": "string"},
                "url": {"type": "string"},
                "filename": {"type": "string"},
                "mimeType": {"type": "string"},
                "sizeBytes": {"type": "integer"},
                "caption": {"type": "string"},
                "position": {"type": "integer"},
                "uploadedBy": {"type": "string"},
                "createdAt": {"type": "string"}
            }
        },
        "CreateTaskRequest": {
            "type": "object",
            "properties": {
                "title": {"type": "string"},
                "description": {"type": "string"},
                "priority": {"type": "string"},
                "dueDate": {"type": "string"},
                "notes": {"type": "string"},
                "assigneeId": {"type": "string"}
            },
            "required": ["title"]
        },
        "UpdateTaskRequest": {
            "type": "object",
            "properties": {
                "title": {"type": "string"},
                "description": {"type": "string"},
                "priority": {"type": "string"},
                "dueDate": {"type": "string"},
                "status": {"type": "string"},
                "notes": {"type": "string"},
                "progress": {"type": "number"}
            }
        },
        "SetProgressRequest": {
            "type": "object",
            "properties": {
                "progress": {"type": "number"}
            },
            "required": ["progress"]
        },
        "CredentialRequest": {
            "type": "object",
            "properties": {
                "filename": {"type": "string"},
                "contentType": {"type": "string"},
                "isPrivate": {"type": "boolean"}
            },
            "required": ["filename", "contentType"]
        },
        "AttachRequest": {
            "type": "object",
            "properties": {
                "artifacts": {
                    "type": "array",
                    "items": {"$ref": "#/definitions/Artifact"}
                }
            },
            "required": ["artifacts"]
        },
        "CaptionRequest": {
            "type": "object",
            "properties": {
                "caption": {"type": "string"}
            }
        },
        "CreateReportRequest": {
            "type": "object",
            "properties": {
                "format": {"type": "string", "enum": ["csv", "pdf"]},
                "from": {"type": "string"},
                "to": {"type": "string"}
            },
            "required": ["format"]
        },
        "APIError": {
            "type": "object",
            "properties": {
                "code": {"type": "string"},
                "message": {"type": "string"},
                "status": {"type": "integer"}
            }
        },
        "ResponseEnvelope": {
            "type": "object",
            "properties": {
                "data": {"type": "object"},
                "error": {"$ref": "#/definitions/APIError"},
                "meta": {"type": "object"}
            }
        }
    }
}`

type swaggerDoc struct{}

// ReadDoc returns the Swagger document.
func (s *swaggerDoc) ReadDoc() string {
	return docTemplate
}

func init() {
	swag.Register(swag.Name, &swaggerDoc{})
}
