package openapi

func envelopeSchema(dataSchema map[string]any) map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"code": map[string]any{"type": "integer"},
			"err":  map[string]any{"type": "string"},
			"data": dataSchema,
		},
		"required": []string{"code"},
	}
}

func jsonResponse(desc string, data map[string]any) map[string]any {
	return map[string]any{
		"description": desc,
		"content": map[string]any{
			"application/json": map[string]any{"schema": envelopeSchema(data)},
		},
	}
}

func errResponse(desc string) map[string]any {
	return jsonResponse(desc, map[string]any{"nullable": true})
}

func ref(name string) map[string]any {
	return map[string]any{"$ref": "#/components/schemas/" + name}
}

func pathParam(name, desc string) map[string]any {
	return map[string]any{
		"name": name, "in": "path", "required": true, "description": desc,
		"schema": map[string]any{"type": "string"},
	}
}

func queryParam(name, desc, typ string) map[string]any {
	return map[string]any{
		"name": name, "in": "query", "description": desc,
		"schema": map[string]any{"type": typ},
	}
}

func get(tag, summary, id string, params []map[string]any, ok map[string]any, errs ...string) map[string]any {
	responses := map[string]any{"200": jsonResponse("OK", ok)}
	for _, code := range errs {
		responses[code] = errResponse(code)
	}
	op := map[string]any{
		"tags":        []string{tag},
		"summary":     summary,
		"operationId": id,
		"responses":   responses,
	}
	if len(params) > 0 {
		op["parameters"] = params
	}
	return map[string]any{"get": op}
}

// Spec returns the OpenAPI 3 document for the tracking HTTP API. It is maintained
// by hand next to the routes.
func Spec() map[string]any {
	signalBody := map[string]any{
		"required": true,
		"content": map[string]any{
			"application/json": map[string]any{
				"schema": map[string]any{
					"oneOf": []any{
						ref("Signal"),
						map[string]any{"type": "array", "items": ref("Signal"), "maxItems": 100},
					},
				},
			},
		},
	}
	dateRange := []map[string]any{
		queryParam("start", "RFC3339 or YYYY-MM-DD", "string"),
		queryParam("end", "RFC3339 or YYYY-MM-DD", "string"),
	}

	return map[string]any{
		"openapi": "3.0.3",
		"info": map[string]any{
			"title":   "tracking API",
			"version": "0.1.0",
		},
		"paths": map[string]any{
			"/healthz": map[string]any{
				"get": map[string]any{
					"tags":        []string{"system"},
					"summary":     "Health check",
					"operationId": "healthz",
					"responses":   map[string]any{"200": map[string]any{"description": "OK"}},
				},
			},
			"/api/status": get("system", "Component status and row counts", "getStatus", nil,
				map[string]any{"type": "object"}),
			"/api/track": map[string]any{
				"post": map[string]any{
					"tags":        []string{"ingest"},
					"summary":     "Submit one signal or a batch",
					"operationId": "track",
					"requestBody": signalBody,
					"responses": map[string]any{
						"202": jsonResponse("Accepted", ref("Accepted")),
						"400": errResponse("Malformed signal"),
						"413": errResponse("Body or batch too large"),
						"429": errResponse("Rate limited"),
						"503": errResponse("Queue unavailable"),
					},
				},
			},
			"/api/track/beacon": map[string]any{
				"post": map[string]any{
					"tags":        []string{"ingest"},
					"summary":     "Fire-and-forget submission for page unload",
					"operationId": "trackBeacon",
					"requestBody": signalBody,
					"responses": map[string]any{
						"204": map[string]any{"description": "Always"},
					},
				},
			},
			"/api/funnels": get("funnels", "List funnel definitions", "listFunnels", nil,
				map[string]any{
					"type":       "object",
					"properties": map[string]any{"items": map[string]any{"type": "array", "items": ref("Funnel")}},
				}),
			"/api/funnels/{name}/metrics": get("funnels", "Per-step funnel conversion", "funnelMetrics",
				append([]map[string]any{pathParam("name", "Funnel name")}, dateRange...),
				ref("FunnelMetrics"), "400", "404"),
			"/api/funnels/{name}/live": get("funnels", "Today's step transitions from live counters", "funnelLive",
				[]map[string]any{pathParam("name", "Funnel name"), queryParam("date", "YYYY-MM-DD", "string")},
				map[string]any{"type": "object"}, "404"),
			"/api/heatmap": get("heatmap", "Aggregated click points for a page", "heatmap",
				[]map[string]any{queryParam("page", "Page path", "string"), queryParam("device", "desktop, mobile or tablet", "string")},
				map[string]any{
					"type": "object",
					"properties": map[string]any{
						"page":   map[string]any{"type": "string"},
						"clicks": map[string]any{"type": "integer"},
						"points": map[string]any{"type": "array", "items": ref("HeatmapPoint")},
					},
				}, "400"),
			"/api/sessions/{id}": get("sessions", "Session with page views, events and funnel steps", "getSession",
				[]map[string]any{pathParam("id", "Session id"), queryParam("limit", "Max rows per list", "integer")},
				map[string]any{"type": "object"}, "404"),
			"/api/metrics/today": get("metrics", "Today's live counters", "metricsToday", nil,
				ref("Today")),
			"/api/metrics/dist": get("metrics", "Top values of a dimension", "metricsDistribution",
				append([]map[string]any{
					queryParam("dim", "device, browser, os, country, page, click or conversion", "string"),
					queryParam("limit", "Max items", "integer"),
				}, dateRange...),
				map[string]any{"type": "object"}, "400"),
		},
		"components": map[string]any{
			"schemas": map[string]any{
				"Signal": map[string]any{
					"type": "object",
					"properties": map[string]any{
						"type": map[string]any{
							"type": "string",
							"enum": []string{
								"session_start", "session_end", "page_view", "event", "click",
								"conversion", "facebook_pixel", "funnel_enter", "funnel_complete", "funnel_abandon",
							},
						},
						"session_id": map[string]any{"type": "string", "maxLength": 64},
						"timestamp":  map[string]any{"description": "RFC3339, unix seconds or unix milliseconds"},
						"data":       map[string]any{"type": "object"},
					},
					"required": []string{"type"},
				},
				"Accepted": map[string]any{
					"type": "object",
					"properties": map[string]any{
						"session_id": map[string]any{"type": "string"},
						"accepted":   map[string]any{"type": "integer"},
					},
				},
				"Funnel": map[string]any{
					"type": "object",
					"properties": map[string]any{
						"name":    map[string]any{"type": "string"},
						"version": map[string]any{"type": "integer"},
						"steps": map[string]any{"type": "array", "items": map[string]any{
							"type": "object",
							"properties": map[string]any{
								"name":            map[string]any{"type": "string"},
								"order":           map[string]any{"type": "integer"},
								"required":        map[string]any{"type": "boolean"},
								"timeout_seconds": map[string]any{"type": "integer"},
								"pixel_event":     map[string]any{"type": "string"},
							},
						}},
					},
				},
				"FunnelMetrics": map[string]any{
					"type": "object",
					"properties": map[string]any{
						"funnel":             map[string]any{"type": "string"},
						"overall_conversion": map[string]any{"type": "number"},
						"steps": map[string]any{"type": "array", "items": map[string]any{
							"type": "object",
							"properties": map[string]any{
								"step":                   map[string]any{"type": "string"},
								"order":                  map[string]any{"type": "integer"},
								"entered":                map[string]any{"type": "integer"},
								"completed":              map[string]any{"type": "integer"},
								"exits":                  map[string]any{"type": "integer"},
								"completion_rate":        map[string]any{"type": "number"},
								"from_start":             map[string]any{"type": "number"},
								"avg_time_spent_seconds": map[string]any{"type": "number"},
							},
						}},
					},
				},
				"HeatmapPoint": map[string]any{
					"type": "object",
					"properties": map[string]any{
						"Page":        map[string]any{"type": "string"},
						"X":           map[string]any{"type": "integer"},
						"Y":           map[string]any{"type": "integer"},
						"Element":     map[string]any{"type": "string"},
						"DeviceType":  map[string]any{"type": "string"},
						"ClickCount":  map[string]any{"type": "integer"},
						"ScreenWidth": map[string]any{"type": "integer", "nullable": true},
					},
				},
				"Today": map[string]any{
					"type": "object",
					"properties": map[string]any{
						"day":         map[string]any{"type": "string"},
						"sessions":    map[string]any{"type": "integer"},
						"visitors":    map[string]any{"type": "integer"},
						"page_views":  map[string]any{"type": "integer"},
						"clicks":      map[string]any{"type": "integer"},
						"conversions": map[string]any{"type": "integer"},
						"revenue":     map[string]any{"type": "number"},
					},
				},
			},
		},
	}
}
