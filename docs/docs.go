// Package docs holds the OpenAPI document served under /swagger.
package docs

import "github.com/swaggo/swag"

const docTemplate = `{
  "swagger": "2.0",
  "info": {
    "description": "REST API for queueing TCP SYN port scans and looking up host information.",
    "title": "synscope API",
    "license": {
      "name": "MIT",
      "url": "https://opensource.org/licenses/MIT"
    },
    "version": "1.0"
  },
  "host": "localhost:8080",
  "basePath": "/api/v1",
  "schemes": [
    "http"
  ],
  "securityDefinitions": {
    "ApiKeyAuth": {
      "type": "apiKey",
      "in": "header",
      "name": "Authorization",
      "description": "Bearer <API_KEY>. Only enforced when the server has API_KEY set."
    }
  },
  "paths": {
    "/scans": {
      "post": {
        "consumes": [
          "application/json"
        ],
        "produces": [
          "application/json"
        ],
        "summary": "Create a new scan task",
        "description": "Validates the target and port specification, persists the task and queues it for background workers. Poll GET /scans/{id} for the report.",
        "operationId": "createScan",
        "tags": [
          "Scans"
        ],
        "security": [
          {
            "ApiKeyAuth": []
          }
        ],
        "parameters": [
          {
            "description": "Scan request parameters",
            "name": "scanRequest",
            "in": "body",
            "required": true,
            "schema": {
              "$ref": "#/definitions/CreateScanRequest"
            }
          }
        ],
        "responses": {
          "202": {
            "description": "Scan task accepted",
            "schema": {
              "$ref": "#/definitions/ScanAcceptedResponse"
            }
          },
          "400": {
            "description": "Malformed body, invalid target or no valid ports",
            "schema": {
              "$ref": "#/definitions/ErrorResponse"
            }
          },
          "401": {
            "description": "Missing or incorrect API key",
            "schema": {
              "$ref": "#/definitions/ErrorResponse"
            }
          },
          "429": {
            "description": "Rate limit exceeded",
            "schema": {
              "$ref": "#/definitions/ErrorResponse"
            }
          },
          "500": {
            "description": "Failed to persist or queue the task",
            "schema": {
              "$ref": "#/definitions/ErrorResponse"
            }
          }
        }
      }
    },
    "/scans/{id}": {
      "get": {
        "produces": [
          "application/json"
        ],
        "summary": "Get scan status and results",
        "description": "Snapshot of a scan task. The report is present once the status is completed.",
        "operationId": "getScan",
        "tags": [
          "Scans"
        ],
        "security": [
          {
            "ApiKeyAuth": []
          }
        ],
        "parameters": [
          {
            "type": "string",
            "format": "uuid",
            "description": "Scan Task ID (UUID v4)",
            "name": "id",
            "in": "path",
            "required": true
          }
        ],
        "responses": {
          "200": {
            "description": "Task snapshot",
            "schema": {
              "$ref": "#/definitions/ScanTask"
            }
          },
          "400": {
            "description": "Malformed task identifier",
            "schema": {
              "$ref": "#/definitions/ErrorResponse"
            }
          },
          "401": {
            "description": "Missing or incorrect API key",
            "schema": {
              "$ref": "#/definitions/ErrorResponse"
            }
          },
          "404": {
            "description": "Task not found",
            "schema": {
              "$ref": "#/definitions/ErrorResponse"
            }
          },
          "500": {
            "description": "Failed to load the task",
            "schema": {
              "$ref": "#/definitions/ErrorResponse"
            }
          }
        }
      }
    },
    "/hosts/{ip}": {
      "get": {
        "produces": [
          "application/json"
        ],
        "summary": "Look up host information",
        "description": "Country, region, city, coordinates and organization of an IPv4 address, as reported by ip-api.com. Answers are cached.",
        "operationId": "getHostInfo",
        "tags": [
          "Hosts"
        ],
        "security": [
          {
            "ApiKeyAuth": []
          }
        ],
        "parameters": [
          {
            "type": "string",
            "format": "ipv4",
            "description": "IPv4 address",
            "name": "ip",
            "in": "path",
            "required": true
          }
        ],
        "responses": {
          "200": {
            "description": "Host information",
            "schema": {
              "$ref": "#/definitions/HostInfo"
            }
          },
          "400": {
            "description": "Not an IPv4 address",
            "schema": {
              "$ref": "#/definitions/ErrorResponse"
            }
          },
          "401": {
            "description": "Missing or incorrect API key",
            "schema": {
              "$ref": "#/definitions/ErrorResponse"
            }
          },
          "502": {
            "description": "Lookup service failed or answered unexpectedly",
            "schema": {
              "$ref": "#/definitions/ErrorResponse"
            }
          }
        }
      }
    }
  },
  "definitions": {
    "CreateScanRequest": {
      "type": "object",
      "required": [
        "target",
        "ports"
      ],
      "properties": {
        "target": {
          "type": "string",
          "example": "192.0.2.10"
        },
        "ports": {
          "type": "string",
          "example": "22,80,443,8000-8100"
        },
        "timeout": {
          "type": "number",
          "minimum": 0,
          "maximum": 100,
          "example": 0.5
        },
        "workers": {
          "type": "integer",
          "minimum": 1,
          "maximum": 1024,
          "example": 100
        }
      }
    },
    "ScanAcceptedResponse": {
      "type": "object",
      "properties": {
        "id": {
          "type": "string",
          "format": "uuid"
        },
        "status": {
          "type": "string",
          "enum": [
            "pending"
          ]
        }
      }
    },
    "ErrorResponse": {
      "type": "object",
      "properties": {
        "error": {
          "type": "string",
          "example": "task not found"
        }
      }
    },
    "HostInfo": {
      "type": "object",
      "properties": {
        "country": {
          "type": "string",
          "example": "Germany"
        },
        "regionName": {
          "type": "string",
          "example": "Hesse"
        },
        "city": {
          "type": "string",
          "example": "Frankfurt am Main"
        },
        "lat": {
          "type": "number",
          "example": 50.1109
        },
        "lon": {
          "type": "number",
          "example": 8.68213
        },
        "org": {
          "type": "string",
          "example": "Example GmbH"
        }
      }
    },
    "ProbeResult": {
      "type": "object",
      "properties": {
        "port": {
          "type": "integer",
          "example": 443
        },
        "state": {
          "type": "string",
          "enum": [
            "Open",
            "Closed",
            "Filtered"
          ]
        },
        "service": {
          "type": "string",
          "example": "https"
        },
        "rtt_ms": {
          "type": "number",
          "example": 12.4
        },
        "error": {
          "type": "string"
        }
      }
    },
    "ScanReport": {
      "type": "object",
      "properties": {
        "target": {
          "type": "string",
          "example": "192.0.2.10"
        },
        "requested": {
          "type": "integer",
          "example": 3
        },
        "results": {
          "type": "array",
          "items": {
            "$ref": "#/definitions/ProbeResult"
          }
        },
        "cancelled": {
          "type": "boolean"
        },
        "started_at": {
          "type": "string",
          "format": "date-time"
        },
        "finished_at": {
          "type": "string",
          "format": "date-time"
        }
      }
    },
    "ScanTask": {
      "type": "object",
      "properties": {
        "id": {
          "type": "string",
          "format": "uuid"
        },
        "status": {
          "type": "string",
          "enum": [
            "pending",
            "running",
            "completed",
            "failed"
          ]
        },
        "target": {
          "type": "string",
          "example": "192.0.2.10"
        },
        "ports": {
          "type": "string",
          "example": "22,80,443"
        },
        "timeout": {
          "type": "number",
          "example": 0.1
        },
        "workers": {
          "type": "integer",
          "example": 50
        },
        "report": {
          "$ref": "#/definitions/ScanReport"
        },
        "created_at": {
          "type": "string",
          "format": "date-time"
        },
        "completed_at": {
          "type": "string",
          "format": "date-time"
        },
        "error": {
          "type": "string"
        }
      }
    }
  }
}
`

func init() {
	swag.Register(swag.Name, &swaggerDoc{})
}

type swaggerDoc struct{}

func (s *swaggerDoc) ReadDoc() string {
	return docTemplate
}
