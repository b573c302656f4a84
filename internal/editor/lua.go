package editor

import (
	"strconv"
	"strings"
)

const channelPlaceholder = "__LIBG_CHANNEL__"

func withChannel(script string, channelID int64) string {
	return strings.ReplaceAll(script, channelPlaceholder, strconv.FormatInt(channelID, 10))
}

// keymapSetupLua installs _G.libg helpers, <leader>m* keymaps and Libg*
// user commands that rpcnotify the bridge channel.
func keymapSetupLua(channelID int64) string {
	return withChannel(keymapSetupTemplate, channelID)
}

// keymapProbeLua reports whether the helpers are bound to channelID and
// all six mappings exist.
func keymapProbeLua(channelID int64) string {
	return withChannel(keymapProbeTemplate, channelID)
}

const keymapProbeTemplate = `
local has_libg = type(_G.libg) == "table"
local has_channel = has_libg and _G.libg.channel == __LIBG_CHANNEL__
local function has_map(lhs, mode)
    local rhs = vim.fn.maparg(lhs, mode)
    return type(rhs) == "string" and rhs ~= ""
end
local maps_ok =
    has_map("<leader>mf", "n")
    and has_map("<leader>mi", "n")
    and has_map("<leader>me", "n")
    and has_map("<leader>ma", "n")
    and has_map("<leader>me", "v")
    and has_map("<leader>ma", "v")
return vim.json.encode({
    hasLibg = has_libg,
    hasChannel = has_channel,
    keymapsInjected = has_libg and has_channel and maps_ok,
})
`

const keymapSetupTemplate = `
_G.libg = _G.libg or {}
_G.libg.channel = __LIBG_CHANNEL__

local function get_context(radius)
    local bufnr = vim.api.nvim_get_current_buf()
    local line = vim.api.nvim_win_get_cursor(0)[1]
    local total = vim.api.nvim_buf_line_count(bufnr)
    local start = math.max(1, line - radius)
    local finish = math.min(total, line + radius)
    return vim.api.nvim_buf_get_lines(bufnr, start - 1, finish, false), start
end

local function get_visual_selection()
    local s = vim.fn.getpos("'<")
    local e = vim.fn.getpos("'>")
    local lines = vim.api.nvim_buf_get_lines(0, s[2] - 1, e[2], false)
    if #lines == 0 then return "" end
    if #lines == 1 then
        lines[1] = string.sub(lines[1], s[3], e[3])
    else
        lines[1] = string.sub(lines[1], s[3])
        lines[#lines] = string.sub(lines[#lines], 1, e[3])
    end
    return table.concat(lines, "\n")
end

local function send_action(name, payload)
    local ok, err = pcall(vim.rpcnotify, _G.libg.channel, "libg_action", payload)
    if not ok then
        vim.notify("[libg] Failed to send " .. name .. " to agent: " .. tostring(err), vim.log.levels.ERROR)
        return false
    end
    vim.notify("[libg] Sent " .. name .. " to agent", vim.log.levels.INFO)
    return true
end

local function base_payload(action, radius)
    local bufnr = vim.api.nvim_get_current_buf()
    local cursor = vim.api.nvim_win_get_cursor(0)
    local lines, start = get_context(radius)
    return {
        action = action,
        filePath = vim.api.nvim_buf_get_name(bufnr),
        fileType = vim.bo[bufnr].filetype,
        cursorLine = cursor[1],
        cursorCol = cursor[2],
        contextLines = lines,
        contextStartLine = start,
    }, bufnr, cursor
end

function _G.libg.fix_diagnostic()
    local payload, bufnr, cursor = base_payload("fixDiagnostic", 30)
    local diags = vim.diagnostic.get(bufnr, { lnum = cursor[1] - 1 })
    if #diags == 0 then
        vim.notify("[libg] No diagnostic on current line", vim.log.levels.WARN)
        return
    end
    local d = diags[1]
    payload.diagnostic = {
        line = d.lnum,
        col = d.col,
        severity = d.severity,
        message = d.message,
        source = d.source or "",
    }
    send_action("fix-diagnostic", payload)
end

function _G.libg.implement()
    local payload, bufnr, cursor = base_payload("implement", 50)
    payload.signatureLines = vim.api.nvim_buf_get_lines(bufnr, cursor[1] - 1, cursor[1], false)
    send_action("implement", payload)
end

function _G.libg.explain(use_selection)
    local payload = base_payload("explain", 30)
    if use_selection then
        payload.targetText = get_visual_selection()
    else
        payload.targetText = vim.api.nvim_get_current_line()
    end
    send_action("explain", payload)
end

function _G.libg.ask(use_selection)
    local prompt = vim.fn.input("libg ask: ")
    if prompt == "" then return end
    local payload = base_payload("ask", 30)
    payload.prompt = prompt
    if use_selection then
        payload.selection = get_visual_selection()
    end
    send_action("ask", payload)
end

vim.keymap.set("n", "<leader>mf", function() _G.libg.fix_diagnostic() end, { desc = "[libg] Fix diagnostic" })
vim.keymap.set("n", "<leader>mi", function() _G.libg.implement() end, { desc = "[libg] Implement" })
vim.keymap.set("n", "<leader>me", function() _G.libg.explain(false) end, { desc = "[libg] Explain" })
vim.keymap.set("v", "<leader>me", function() _G.libg.explain(true) end, { desc = "[libg] Explain selection" })
vim.keymap.set("n", "<leader>ma", function() _G.libg.ask(false) end, { desc = "[libg] Ask" })
vim.keymap.set("v", "<leader>ma", function() _G.libg.ask(true) end, { desc = "[libg] Ask with selection" })

vim.api.nvim_create_user_command("LibgFixDiagnostic", function() _G.libg.fix_diagnostic() end, {})
vim.api.nvim_create_user_command("LibgImplement", function() _G.libg.implement() end, {})
vim.api.nvim_create_user_command("LibgExplain", function() _G.libg.explain(false) end, { range = true })
vim.api.nvim_create_user_command("LibgAsk", function() _G.libg.ask(false) end, { range = true })

vim.notify("[libg] Agent keybindings loaded", vim.log.levels.INFO)
`

const bufferMetaLua = `
local bufnr = vim.api.nvim_get_current_buf()
return vim.json.encode({ fileType = vim.bo[bufnr].filetype, modified = vim.bo[bufnr].modified })
`

const diagnosticsLua = `
local out = {}
for _, d in ipairs(vim.diagnostic.get(vim.api.nvim_get_current_buf())) do
    table.insert(out, {
        line = d.lnum,
        col = d.col,
        severity = d.severity,
        message = d.message,
        source = d.source or "",
    })
end
if #out == 0 then return "[]" end
return vim.json.encode(out)
`

// readFileLua prefers a loaded buffer over disk so the agent sees unsaved edits.
const readFileLua = `
local input_path = ...
if type(input_path) ~= "string" or input_path == "" then
    return vim.json.encode({ ok = false, error = "missing file path" })
end
local path = vim.fn.fnamemodify(input_path, ":p")
local bufnr = vim.fn.bufnr(path)
if bufnr ~= -1 and vim.api.nvim_buf_is_valid(bufnr) and vim.fn.bufloaded(bufnr) == 1 then
    local lines = vim.api.nvim_buf_get_lines(bufnr, 0, -1, false)
    return vim.json.encode({ ok = true, source = "buffer", content = table.concat(lines, "\n") })
end
local file, err = io.open(path, "rb")
if not file then
    return vim.json.encode({ ok = false, error = err or ("failed to open " .. path) })
end
local content = file:read("*a")
file:close()
if content == nil then
    return vim.json.encode({ ok = false, error = "failed to read file content" })
end
return vim.json.encode({ ok = true, source = "disk", content = content })
`

// writeFileLua loads the file into a buffer, replaces its lines and writes it
// from inside the editor.
const writeFileLua = `
local input_path, content = ...
if type(input_path) ~= "string" or input_path == "" then
    return vim.json.encode({ ok = false, error = "missing file path" })
end
if type(content) ~= "string" then
    return vim.json.encode({ ok = false, error = "missing file content" })
end
local path = vim.fn.fnamemodify(input_path, ":p")
local bufnr = vim.fn.bufnr(path)
if bufnr == -1 then
    bufnr = vim.fn.bufadd(path)
end
if bufnr == -1 then
    return vim.json.encode({ ok = false, error = "failed to create buffer for file" })
end
if vim.fn.bufloaded(bufnr) == 0 then
    vim.fn.bufload(bufnr)
end
if not vim.api.nvim_buf_is_valid(bufnr) then
    return vim.json.encode({ ok = false, error = "invalid buffer for file" })
end
local lines = vim.split(content, "\n", { plain = true })
if #lines > 0 and lines[#lines] == "" then
    table.remove(lines, #lines)
end
if #lines == 0 then
    lines = { "" }
end
vim.api.nvim_buf_set_lines(bufnr, 0, -1, false, lines)
local ok, err = pcall(function()
    vim.api.nvim_buf_call(bufnr, function()
        vim.cmd("silent keepalt noautocmd write")
    end)
end)
if not ok then
    return vim.json.encode({ ok = false, error = tostring(err) })
end
return vim.json.encode({ ok = true })
`
